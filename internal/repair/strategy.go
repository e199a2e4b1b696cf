package repair

import (
	"fmt"
	"strings"

	"github.com/labfleet/repair-engine/pkg/models"
)

// VerifyNode declares a verifier and the verifiers it depends on
type VerifyNode struct {
	Name         string
	Verifier     Verifier
	Dependencies []string
}

// RepairNode declares a repair action, the verifiers it claims to fix and
// the verifier or repair nodes that must pass before it may run
type RepairNode struct {
	Name         string
	Action       Action
	Triggers     []string
	Dependencies []string
}

// Strategy is an immutable, validated composition of verifiers and repair
// actions. It is safe for concurrent use by many runs.
type Strategy struct {
	name      string
	verifiers []VerifyNode
	repairs   []RepairNode
	order     []string
	verifyIdx map[string]int
	dependent map[string][]string
}

// NewStrategy validates the declarations and computes the verifier order.
// Declaration order breaks ties between independent nodes.
func NewStrategy(name string, verifiers []VerifyNode, repairs []RepairNode) (*Strategy, error) {
	s := &Strategy{
		name:      name,
		verifiers: make([]VerifyNode, len(verifiers)),
		repairs:   make([]RepairNode, len(repairs)),
		verifyIdx: make(map[string]int, len(verifiers)),
		dependent: make(map[string][]string),
	}

	for i, v := range verifiers {
		v.Dependencies = dedupe(v.Dependencies)
		s.verifiers[i] = v
	}
	for i, r := range repairs {
		r.Triggers = dedupe(r.Triggers)
		r.Dependencies = dedupe(r.Dependencies)
		s.repairs[i] = r
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	order, err := s.topologicalOrder()
	if err != nil {
		return nil, err
	}
	s.order = order

	for _, v := range s.verifiers {
		for _, dep := range v.Dependencies {
			s.dependent[dep] = append(s.dependent[dep], v.Name)
		}
	}

	return s, nil
}

// MustNewStrategy is like NewStrategy but panics on error. It is intended for
// strategies declared at package initialization.
func MustNewStrategy(name string, verifiers []VerifyNode, repairs []RepairNode) *Strategy {
	s, err := NewStrategy(name, verifiers, repairs)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Strategy) validate() error {
	var errs []string

	if strings.TrimSpace(s.name) == "" {
		errs = append(errs, "strategy name is required")
	}

	kinds := make(map[string]models.NodeKind)
	for i, v := range s.verifiers {
		switch {
		case v.Name == "":
			errs = append(errs, fmt.Sprintf("verifier #%d has no name", i))
			continue
		case kinds[v.Name] != "":
			errs = append(errs, fmt.Sprintf("duplicate node name %q", v.Name))
			continue
		}
		if v.Verifier == nil {
			errs = append(errs, fmt.Sprintf("verifier %q has no check", v.Name))
		}
		kinds[v.Name] = models.NodeKindVerifier
		s.verifyIdx[v.Name] = i
	}
	for i, r := range s.repairs {
		switch {
		case r.Name == "":
			errs = append(errs, fmt.Sprintf("repair #%d has no name", i))
			continue
		case kinds[r.Name] != "":
			errs = append(errs, fmt.Sprintf("duplicate node name %q", r.Name))
			continue
		}
		if r.Action == nil {
			errs = append(errs, fmt.Sprintf("repair %q has no action", r.Name))
		}
		kinds[r.Name] = models.NodeKindRepair
	}

	for _, v := range s.verifiers {
		for _, dep := range v.Dependencies {
			switch kinds[dep] {
			case models.NodeKindVerifier:
			case models.NodeKindRepair:
				errs = append(errs, fmt.Sprintf("verifier %q depends on repair %q", v.Name, dep))
			default:
				errs = append(errs, fmt.Sprintf("verifier %q depends on unknown node %q", v.Name, dep))
			}
		}
	}
	for _, r := range s.repairs {
		if len(r.Triggers) == 0 {
			errs = append(errs, fmt.Sprintf("repair %q has no triggers", r.Name))
		}
		for _, trigger := range r.Triggers {
			if kinds[trigger] != models.NodeKindVerifier {
				errs = append(errs, fmt.Sprintf("repair %q triggers on unknown verifier %q", r.Name, trigger))
			}
		}
		for _, dep := range r.Dependencies {
			if kinds[dep] == "" {
				errs = append(errs, fmt.Sprintf("repair %q depends on unknown node %q", r.Name, dep))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidStrategy, s.name, strings.Join(errs, "; "))
	}
	return nil
}

// topologicalOrder runs Kahn's algorithm over verifiers and repairs together,
// always taking the ready node declared first. Verifiers never depend on
// repairs, so they all precede repairs in the result; only their order is kept.
func (s *Strategy) topologicalOrder() ([]string, error) {
	names := make([]string, 0, len(s.verifiers)+len(s.repairs))
	deps := make(map[string][]string, cap(names))
	for _, v := range s.verifiers {
		names = append(names, v.Name)
		deps[v.Name] = v.Dependencies
	}
	for _, r := range s.repairs {
		names = append(names, r.Name)
		deps[r.Name] = r.Dependencies
	}

	pending := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, name := range names {
		pending[name] = len(deps[name])
		for _, dep := range deps[name] {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	done := make(map[string]bool, len(names))
	order := make([]string, 0, len(s.verifiers))
	for len(done) < len(names) {
		next := ""
		for _, name := range names {
			if !done[name] && pending[name] == 0 {
				next = name
				break
			}
		}
		if next == "" {
			return nil, fmt.Errorf("%w in strategy %q: %s", ErrCycle, s.name, describeCycle(names, deps, done))
		}

		done[next] = true
		for _, d := range dependents[next] {
			pending[d]--
		}
		if _, ok := s.verifyIdx[next]; ok {
			order = append(order, next)
		}
	}

	return order, nil
}

// describeCycle walks unresolved dependency edges from the first unresolved
// node until a node repeats, and renders the loop found.
func describeCycle(names []string, deps map[string][]string, done map[string]bool) string {
	var start string
	for _, name := range names {
		if !done[name] {
			start = name
			break
		}
	}

	seen := make(map[string]int)
	var path []string
	for cur := start; ; {
		if at, ok := seen[cur]; ok {
			return strings.Join(append(path[at:], cur), " -> ")
		}
		seen[cur] = len(path)
		path = append(path, cur)

		for _, dep := range deps[cur] {
			if !done[dep] {
				cur = dep
				break
			}
		}
	}
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Name returns the strategy name
func (s *Strategy) Name() string {
	return s.name
}

// Order returns verifier names in execution order
func (s *Strategy) Order() []string {
	return append([]string(nil), s.order...)
}

// Verifier returns the declaration of the named verifier
func (s *Strategy) Verifier(name string) (VerifyNode, bool) {
	i, ok := s.verifyIdx[name]
	if !ok {
		return VerifyNode{}, false
	}
	return s.verifiers[i], true
}

// affected returns targets plus every verifier transitively depending on them
func (s *Strategy) affected(targets []string) map[string]bool {
	set := make(map[string]bool)
	queue := append([]string(nil), targets...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if set[name] {
			continue
		}
		set[name] = true
		queue = append(queue, s.dependent[name]...)
	}
	return set
}

// Describe returns a serializable description of the strategy graph
func (s *Strategy) Describe() models.StrategyDescription {
	desc := models.StrategyDescription{
		Name:      s.name,
		Order:     s.Order(),
		Verifiers: make([]models.NodeDescription, 0, len(s.verifiers)),
		Repairs:   make([]models.NodeDescription, 0, len(s.repairs)),
	}
	for _, name := range s.order {
		v := s.verifiers[s.verifyIdx[name]]
		desc.Verifiers = append(desc.Verifiers, models.NodeDescription{
			Name:         v.Name,
			Kind:         models.NodeKindVerifier,
			Description:  v.Verifier.Description(),
			Dependencies: nonNil(v.Dependencies),
		})
	}
	for _, r := range s.repairs {
		desc.Repairs = append(desc.Repairs, models.NodeDescription{
			Name:         r.Name,
			Kind:         models.NodeKindRepair,
			Description:  r.Action.Description(),
			Dependencies: nonNil(r.Dependencies),
			Triggers:     nonNil(r.Triggers),
		})
	}
	return desc
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return append([]string(nil), in...)
}
