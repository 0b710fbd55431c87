package inmemdb

import (
	"sync"
	"time"

	"github.com/trezcool/quizbank/core/billing"
	"github.com/trezcool/quizbank/core/quiz"
	"github.com/trezcool/quizbank/core/user"
)

type (
	// DB is an in-memory database. Deletes cascade like the postgres schema does.
	DB struct {
		mu sync.RWMutex

		users         map[string]*user.User
		subscriptions map[string]*billing.Subscription
		usage         []usageRow
		events        map[string]bool // {provider:id}
		quizzes       map[string]*quiz.Quiz
		questions     map[string][]quiz.Question // {quizID: questions}
	}

	usageRow struct {
		userID    string
		questions int
		at        time.Time
	}
)

func Open() *DB {
	return &DB{
		users:         make(map[string]*user.User),
		subscriptions: make(map[string]*billing.Subscription),
		events:        make(map[string]bool),
		quizzes:       make(map[string]*quiz.Quiz),
		questions:     make(map[string][]quiz.Question),
	}
}

// Reset empties all tables.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users = make(map[string]*user.User)
	db.subscriptions = make(map[string]*billing.Subscription)
	db.usage = nil
	db.events = make(map[string]bool)
	db.quizzes = make(map[string]*quiz.Quiz)
	db.questions = make(map[string][]quiz.Question)
}
