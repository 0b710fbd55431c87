// Package poller runs the pending generation jobs check once across replicas.
package poller

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/quiz"
	"github.com/trezcool/quizbank/services/metrics"
)

const lockKey = "quizbank:poller"

type Poller struct {
	svc    quiz.Service
	locker core.Locker
	conf   *core.Config
	logger core.Logger
}

func New(conf *core.Config, svc quiz.Service, locker core.Locker, logger core.Logger) *Poller {
	return &Poller{svc: svc, locker: locker, conf: conf, logger: logger}
}

// Run polls the pending quizzes, unless another replica holds the poller lock.
// ran is false when the cycle was skipped.
func (p *Poller) Run(ctx context.Context) (report quiz.PollReport, ran bool, err error) {
	release, ok, err := p.locker.TryLock(ctx, lockKey, p.conf.Poller.LockTTL)
	if err != nil {
		return quiz.PollReport{}, false, errors.Wrap(err, "acquiring poller lock")
	}
	if !ok {
		p.logger.Debug("poller lock held elsewhere; skipping")
		return quiz.PollReport{}, false, nil
	}
	defer release()

	// the lock expires after LockTTL: a longer cycle would overlap the next replica's
	if ttl := p.conf.Poller.LockTTL; ttl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ttl)
		defer cancel()
	}
	report, err = p.svc.PollPending(ctx)
	metrics.ObservePoll(report.Completed, report.Failed, report.Pending)
	if err != nil {
		return report, true, errors.Wrap(err, "polling pending quizzes")
	}
	if report.Checked > 0 {
		p.logger.Info("polled pending quizzes", map[string]interface{}{
			"checked":   report.Checked,
			"completed": report.Completed,
			"failed":    report.Failed,
			"pending":   report.Pending,
		})
	}
	return report, true, nil
}

// Job adapts Run to the scheduler.
func (p *Poller) Job(ctx context.Context) error {
	_, _, err := p.Run(ctx)
	return err
}
