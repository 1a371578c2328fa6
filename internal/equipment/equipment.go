// Package equipment holds the in-memory representation of one piece of
// field equipment — its tags, compiled rules, and latest symbol-table
// snapshot.
package equipment

import (
	"fmt"

	"github.com/vinibressanini/idab-processor/internal/apperrors"
	"github.com/vinibressanini/idab-processor/internal/config"
	"github.com/vinibressanini/idab-processor/internal/rules"
)

// TagType is the declared scalar type of a Tag, used by the ingestion
// adapter to cast raw payload strings.
type TagType string

const (
	TypeInt    TagType = "int"
	TypeFloat  TagType = "float"
	TypeBool   TagType = "bool"
	TypeString TagType = "string"
)

// Tag is an input variable of an equipment. Immutable after load.
type Tag struct {
	Name    string
	Address string
	Type    TagType
}

// Rule is a named boolean expression over an equipment's tags. State is
// mutated only by the scheduler, one tick at a time.
type Rule struct {
	Name       string
	Expression rules.Expr
	RoutingKey string
	Output     string
	State      bool
}

// Equipment groups tags, rules and the latest reading snapshot under one
// identity. Construction happens once at startup; after that only
// UpdateValues and the scheduler's rule-state writes touch it.
type Equipment struct {
	Name     string
	Code     string
	Metadata map[string]string
	Tags     []Tag
	Rules    []Rule
	Symtable rules.SymbolTable
}

// New builds an Equipment from its on-disk spec, resolving each rule's
// expression through cache (so equipments sharing identical expression
// text share one compiled Expr). Returns a KindConfig error naming the
// rule if its output tag doesn't exist among the equipment's tags, or if
// compilation fails. Tag names used inside an expression are not checked
// here; an unknown one makes the rule evaluate to false at run time.
func New(name string, spec config.EquipmentSpec, cache *rules.Cache) (*Equipment, error) {
	eq := &Equipment{
		Name:     name,
		Code:     spec.Code,
		Metadata: spec.Metadata,
		Symtable: make(rules.SymbolTable),
	}

	known := make(map[string]bool, len(spec.Tags))
	for _, ts := range spec.Tags {
		eq.Tags = append(eq.Tags, Tag{
			Name:    ts.Name,
			Address: ts.PLCAddress,
			Type:    TagType(ts.Type),
		})
		known[ts.Name] = true
	}

	for _, rs := range spec.EventRules {
		expr, err := cache.Compile(rs.Expression)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindConfig,
				fmt.Sprintf("equipment %q: rule %q: compile expression %q", name, rs.Name, rs.Expression), err)
		}
		if rs.Output != "" && !known[rs.Output] {
			return nil, apperrors.New(apperrors.KindConfig,
				fmt.Sprintf("equipment %q: rule %q: output tag %q is not declared among this equipment's tags", name, rs.Name, rs.Output))
		}
		eq.Rules = append(eq.Rules, Rule{
			Name:       rs.Name,
			Expression: expr,
			RoutingKey: rs.RoutingKey,
			Output:     rs.Output,
			State:      false,
		})
	}

	return eq, nil
}

// UpdateValues merges new readings into the symbol table: tags absent from
// update keep their previous value, so partial telemetry in a single drain
// never erases state from an earlier one.
func (e *Equipment) UpdateValues(update rules.SymbolTable) {
	for name, v := range update {
		e.Symtable[name] = v
	}
}

// HasReadings reports whether the equipment has ever received a reading.
// The scheduler skips equipments without any to avoid spurious edges from
// an undefined initial state.
func (e *Equipment) HasReadings() bool {
	return len(e.Symtable) > 0
}
