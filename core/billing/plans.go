package billing

import (
	"io/fs"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	appfs "github.com/trezcool/quizbank/fs"
)

const (
	PlanFree = "free"

	FeatureDocuments   = "documents"
	FeatureGoogleForms = "google_forms"
)

const plansFile = "assets/plans.yaml"

type (
	Plan struct {
		ID                 string `yaml:"id" json:"id"`
		Name               string `yaml:"name" json:"name"`
		MonthlyGenerations int    `yaml:"monthly_generations" json:"monthly_generations"`
		MaxQuestions       int    `yaml:"max_questions" json:"max_questions"`
		Documents          bool   `yaml:"documents" json:"documents"`
		GoogleForms        bool   `yaml:"google_forms" json:"google_forms"`
		PriceID            string `yaml:"-" json:"-"`
	}

	// Catalog is the ordered, read-only list of plans.
	Catalog struct {
		plans []Plan
		byID  map[string]int
	}
)

func (p Plan) Has(feature string) bool {
	switch feature {
	case FeatureDocuments:
		return p.Documents
	case FeatureGoogleForms:
		return p.GoogleForms
	default:
		return false
	}
}

// Purchasable reports whether the plan can be bought through checkout.
func (p Plan) Purchasable() bool {
	return p.ID != PlanFree && p.PriceID != ""
}

// LoadCatalog reads the embedded plan catalog and attaches the Stripe price ids ({planID: priceID}).
func LoadCatalog(prices map[string]string) (*Catalog, error) {
	return loadCatalog(appfs.FS, prices)
}

func loadCatalog(fsys fs.FS, prices map[string]string) (*Catalog, error) {
	data, err := fs.ReadFile(fsys, plansFile)
	if err != nil {
		return nil, errors.Wrap(err, "reading plan catalog")
	}
	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err = yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding plan catalog")
	}
	return NewCatalog(doc.Plans, prices)
}

func NewCatalog(plans []Plan, prices map[string]string) (*Catalog, error) {
	cat := &Catalog{plans: make([]Plan, 0, len(plans)), byID: make(map[string]int, len(plans))}
	for _, p := range plans {
		if p.ID == "" {
			return nil, errors.New("plan catalog: plan without id")
		}
		if _, dup := cat.byID[p.ID]; dup {
			return nil, errors.Errorf("plan catalog: duplicate plan %q", p.ID)
		}
		p.PriceID = prices[p.ID]
		cat.byID[p.ID] = len(cat.plans)
		cat.plans = append(cat.plans, p)
	}
	if _, ok := cat.byID[PlanFree]; !ok {
		return nil, errors.New("plan catalog: missing free plan")
	}
	return cat, nil
}

func (cat *Catalog) Get(id string) (Plan, bool) {
	i, ok := cat.byID[id]
	if !ok {
		return Plan{}, false
	}
	return cat.plans[i], true
}

func (cat *Catalog) Free() Plan {
	p, _ := cat.Get(PlanFree)
	return p
}

func (cat *Catalog) ByPrice(priceID string) (Plan, bool) {
	if priceID == "" {
		return Plan{}, false
	}
	for _, p := range cat.plans {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return Plan{}, false
}

func (cat *Catalog) List() []Plan {
	res := make([]Plan, len(cat.plans))
	copy(res, cat.plans)
	return res
}
