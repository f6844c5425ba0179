package models

import "sort"

type InstrumentConfig struct {
	ID         string
	Timeframes []string
	TPPercent  float64
	SLPercent  float64
	Leverage   int
}

// Instruments is the read-only instrument mapping built once at startup.
type Instruments struct {
	byID map[string]InstrumentConfig
	ids  []string
}

func NewInstruments(list []InstrumentConfig) Instruments {
	in := Instruments{byID: make(map[string]InstrumentConfig, len(list))}
	for _, c := range list {
		c.Timeframes = append([]string(nil), c.Timeframes...)
		in.byID[c.ID] = c
	}
	for id := range in.byID {
		in.ids = append(in.ids, id)
	}
	sort.Strings(in.ids)
	return in
}

func (in Instruments) Get(id string) (InstrumentConfig, bool) {
	c, ok := in.byID[id]
	if ok {
		c.Timeframes = append([]string(nil), c.Timeframes...)
	}
	return c, ok
}

// IDs returns instrument ids in sorted order.
func (in Instruments) IDs() []string { return append([]string(nil), in.ids...) }

func (in Instruments) Len() int { return len(in.ids) }
