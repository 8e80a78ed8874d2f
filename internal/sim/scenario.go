// Package sim generates realistic signing traffic for load and demo runs.
package sim

import (
	"math/rand"
	"time"
)

type Party struct {
	Email string
	Name  string
}

type Draft struct {
	Title      string
	ItemTitle  string
	PageCount  int
	Signer     Party
	FieldCount int
}

type Scenario struct {
	Name    string
	Titles  []string
	Items   []string
	Parties []Party
}

func ContractCycleScenario() Scenario {
	return Scenario{
		Name: "QuarterlyContractCycle",
		Titles: []string{
			"Master Services Agreement",
			"Mutual Non-Disclosure Agreement",
			"Commercial Lease Renewal",
			"Statement of Work Addendum",
			"Vendor Onboarding Packet",
		},
		Items: []string{
			"agreement.pdf",
			"exhibit-a.pdf",
			"terms.pdf",
		},
		Parties: []Party{
			{Email: "counsel@meridianlegal.example", Name: "Dana Okafor"},
			{Email: "procurement@northwindsupply.example", Name: "Iris Valdez"},
			{Email: "cfo@atlasmanufacturing.example", Name: "Pavel Horak"},
			{Email: "ops@harborlogistics.example", Name: "June Akimoto"},
		},
	}
}

type Generator struct {
	scenario Scenario
	rnd      *rand.Rand
}

func NewGenerator(seed int64) Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return Generator{scenario: ContractCycleScenario(), rnd: rand.New(rand.NewSource(seed))}
}

func (g Generator) NextDraft() Draft {
	s := g.scenario
	if len(s.Parties) == 0 || len(s.Titles) == 0 {
		panic("scenario requires titles and parties")
	}
	return Draft{
		Title:      s.Titles[g.rnd.Intn(len(s.Titles))],
		ItemTitle:  s.Items[g.rnd.Intn(len(s.Items))],
		PageCount:  1 + g.rnd.Intn(12),
		Signer:     s.Parties[g.rnd.Intn(len(s.Parties))],
		FieldCount: 1 + g.rnd.Intn(3),
	}
}
