package iobridge

import e84 "github.com/semiline/e84bridge"

// Composite merges several Hardware sources (typically one GPIODriver for
// the core E84 signals and one ExpanderDriver per load-port bank) into the
// single Hardware a Bridge drives.
type Composite struct {
	sources []Hardware
}

// NewComposite combines sources in the given order. ReadInputs merges every
// source's result; later sources win on a signal name collision, which
// should never happen if each source is bound to a disjoint signal set.
func NewComposite(sources ...Hardware) *Composite {
	return &Composite{sources: sources}
}

func (c *Composite) ReadInputs() (map[e84.Name]bool, error) {
	out := make(map[e84.Name]bool)
	for _, s := range c.sources {
		in, err := s.ReadInputs()
		if err != nil {
			return nil, err
		}
		for name, v := range in {
			out[name] = v
		}
	}
	return out, nil
}

func (c *Composite) WriteOutputs(values map[e84.Name]bool) error {
	for _, s := range c.sources {
		if err := s.WriteOutputs(values); err != nil {
			return err
		}
	}
	return nil
}
