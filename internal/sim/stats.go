package sim

type Counter struct {
	Envelopes  int
	Fields     int
	Signatures int
}

func (c *Counter) Add(d Draft) {
	c.Envelopes++
	c.Fields += d.FieldCount
	c.Signatures += d.FieldCount
}
