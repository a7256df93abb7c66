// Package datatype maps analysis data types to the logtool extractor that
// produces them and the policy used to turn an extracted row into a value.
package datatype

import (
	"fmt"
	"sort"
	"strings"
)

// Policy selects how a row becomes an observation.
type Policy int

const (
	// PolicyOffset reads production and consumption from fixed columns 3 and 4.
	PolicyOffset Policy = iota
	// PolicyColumn looks up a named header field and divides by Scale.
	PolicyColumn
	// PolicyResidual clips imbalance against the available regulation capacity.
	PolicyResidual
	// PolicyMarket reads the "[mwh price]" cells written per lead time;
	// Column selects "volume" (total MWh) or "price" (volume-weighted mean).
	PolicyMarket
)

func (p Policy) String() string {
	switch p {
	case PolicyColumn:
		return "column"
	case PolicyResidual:
		return "residual"
	case PolicyMarket:
		return "market"
	default:
		return "offset"
	}
}

// ParsePolicy is the inverse of Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "offset", "":
		return PolicyOffset, nil
	case "column":
		return PolicyColumn, nil
	case "residual":
		return PolicyResidual, nil
	case "market":
		return PolicyMarket, nil
	}
	return PolicyOffset, fmt.Errorf("unknown policy %q", s)
}

// UnmarshalText lets YAML configs name policies as strings.
func (p *Policy) UnmarshalText(text []byte) error {
	v, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Net selects the sign convention for offset rows.
type Net int

const (
	// NetDemand is -(consumption + production); consumption is reported negative.
	NetDemand Net = iota
	NetConsumption
	NetProduction
)

func (n Net) String() string {
	switch n {
	case NetConsumption:
		return "consumption"
	case NetProduction:
		return "production"
	default:
		return "net-demand"
	}
}

// UnmarshalText accepts the String forms.
func (n *Net) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "net-demand", "":
		*n = NetDemand
	case "consumption":
		*n = NetConsumption
	case "production":
		*n = NetProduction
	default:
		return fmt.Errorf("unknown net mode %q", text)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (n Net) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// Type describes one analysis data type.
type Type struct {
	Name      string  `yaml:"name"`
	Extractor string  `yaml:"extractor"`
	Prefix    string  `yaml:"prefix"`
	Options   string  `yaml:"options"`
	Ext       string  `yaml:"ext"`
	Policy    Policy  `yaml:"policy"`
	Net       Net     `yaml:"net"`
	Column    string  `yaml:"column"`
	Scale     float64 `yaml:"scale"`
}

// FileExt defaults to csv.
func (t Type) FileExt() string {
	if t.Ext == "" {
		return "csv"
	}
	return t.Ext
}

const (
	classProdCons = "org.powertac.logtool.example.ProductionConsumption"
	classSolar    = "org.powertac.logtool.example.SolarProduction"
	classDRS      = "org.powertac.logtool.example.DemandResponseStats"
	classMkt      = "org.powertac.logtool.example.MktPriceStats"
)

var builtin = []Type{
	{Name: "net-demand", Extractor: classProdCons, Prefix: "pc", Policy: PolicyOffset, Net: NetDemand},
	{Name: "consumption", Extractor: classProdCons, Prefix: "pc", Policy: PolicyOffset, Net: NetConsumption},
	{Name: "production", Extractor: classProdCons, Prefix: "pc", Policy: PolicyOffset, Net: NetProduction},
	{Name: "solar", Extractor: classSolar, Prefix: "solar-prod-", Policy: PolicyOffset, Net: NetProduction},
	{Name: "mktPrice", Extractor: classMkt, Prefix: "mktPr", Policy: PolicyMarket, Column: "price"},
	{Name: "mktVolume", Extractor: classMkt, Prefix: "mktPr", Policy: PolicyMarket, Column: "volume"},
	{Name: "imbalance", Extractor: classDRS, Prefix: "drs", Policy: PolicyColumn, Column: "imb", Scale: 1000},
	{Name: "imbalanceCost", Extractor: classDRS, Prefix: "drs", Policy: PolicyColumn, Column: "cost", Scale: 1000},
	{Name: "upregCapacity", Extractor: classDRS, Prefix: "drs", Policy: PolicyColumn, Column: "upa", Scale: 1000},
	{Name: "upregUsed", Extractor: classDRS, Prefix: "drs", Policy: PolicyColumn, Column: "upu", Scale: 1000},
	{Name: "downregCapacity", Extractor: classDRS, Prefix: "drs", Policy: PolicyColumn, Column: "dna", Scale: 1000},
	{Name: "downregUsed", Extractor: classDRS, Prefix: "drs", Policy: PolicyColumn, Column: "dnu", Scale: 1000},
	{Name: "residualImbalance", Extractor: classDRS, Prefix: "drs", Policy: PolicyResidual, Scale: 1000},
}

// Registry holds the known data types by name.
type Registry struct {
	types map[string]Type
}

// NewRegistry returns the builtin types with extra entries layered on top;
// an extra with an existing name replaces the builtin.
func NewRegistry(extra ...Type) (*Registry, error) {
	r := &Registry{types: make(map[string]Type, len(builtin)+len(extra))}
	for _, t := range builtin {
		r.types[t.Name] = t
	}
	for _, t := range extra {
		if err := t.validate(); err != nil {
			return nil, err
		}
		r.types[t.Name] = t
	}
	return r, nil
}

// Lookup returns the named type.
func (r *Registry) Lookup(name string) (Type, error) {
	t, ok := r.types[name]
	if !ok {
		return Type{}, fmt.Errorf("unknown data type %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return t, nil
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (t Type) validate() error {
	if t.Name == "" {
		return fmt.Errorf("data type without name")
	}
	if t.Extractor == "" || t.Prefix == "" {
		return fmt.Errorf("data type %s: extractor and prefix are required", t.Name)
	}
	if t.Policy == PolicyColumn && t.Column == "" {
		return fmt.Errorf("data type %s: column policy needs a column", t.Name)
	}
	if t.Policy == PolicyMarket && t.Column != "price" && t.Column != "volume" {
		return fmt.Errorf("data type %s: market policy column must be price or volume", t.Name)
	}
	return nil
}
