package plan

import (
	"fmt"

	"github.com/franz/electric/internal/meta"
)

// Listing is the set of names observed at one backend
type Listing struct {
	Backend string
	Names   []string
}

// Transfer copies a file between backends. Transfers always touch the local
// backend: remotes are filled from it, and it is filled from remotes.
type Transfer struct {
	Song   int
	From   string
	Source string
	To     string
	Dest   string
	// Retag is set when the copied file carries stale tags
	Retag bool
	Tags  meta.Tags
}

func (t Transfer) String() string {
	return fmt.Sprintf("transfer %s:%s -> %s:%s", t.From, t.Source, t.To, t.Dest)
}

// Rename moves a file with the right audio to its canonical name on the same
// backend, rewriting its tags when Retag is set
type Rename struct {
	Song    int
	Backend string
	From    string
	To      string
	Retag   bool
	Tags    meta.Tags
}

func (r Rename) String() string {
	action := "rename"
	if r.Retag {
		action = "retag+rename"
	}
	return fmt.Sprintf("%s %s:%s -> %s", action, r.Backend, r.From, r.To)
}

// Prune deletes a file no catalog song accounts for
type Prune struct {
	Backend string
	Name    string
}

func (p Prune) String() string {
	return fmt.Sprintf("prune %s:%s", p.Backend, p.Name)
}

// WarningKind classifies non-fatal findings
type WarningKind string

const (
	WarnUnresolvable WarningKind = "unresolvable"
	WarnExtraneous   WarningKind = "extraneous"
)

// Warning is a finding the plan leaves untouched
type Warning struct {
	Kind    WarningKind
	Song    int
	Backend string
	Name    string
}

func (w Warning) String() string {
	if w.Kind == WarnUnresolvable {
		return fmt.Sprintf("song %d unresolvable", w.Song)
	}
	return fmt.Sprintf("extraneous file %s:%s", w.Backend, w.Name)
}

// Plan is the set of operations that brings every location into agreement
// with the catalog. It has no side effects until executed.
type Plan struct {
	Local     string
	Transfers []Transfer
	Renames   []Rename
	Prunes    []Prune
	Warnings  []Warning
}

// Empty reports whether the plan schedules no operation
func (p *Plan) Empty() bool {
	return len(p.Transfers) == 0 && len(p.Renames) == 0 && len(p.Prunes) == 0
}

// Unresolved returns the ids of songs no location can supply
func (p *Plan) Unresolved() []int {
	var ids []int
	for _, w := range p.Warnings {
		if w.Kind == WarnUnresolvable {
			ids = append(ids, w.Song)
		}
	}
	return ids
}

// OpKind identifies an operation in a backend stream
type OpKind string

const (
	OpRename   OpKind = "rename"
	OpTransfer OpKind = "transfer"
	OpPrune    OpKind = "prune"
)

// Op is one step of a backend's operation stream. Exactly one of the
// pointers is set, matching Kind.
type Op struct {
	Kind     OpKind
	Rename   *Rename
	Transfer *Transfer
	Prune    *Prune
}

func (o Op) String() string {
	switch o.Kind {
	case OpRename:
		return o.Rename.String()
	case OpTransfer:
		return o.Transfer.String()
	case OpPrune:
		return o.Prune.String()
	}
	return string(o.Kind)
}

// Ops returns the ordered operation stream of one backend: renames first,
// then transfers into the backend, then prunes. A file a rename could reuse
// is never deleted first, and nothing is deleted before it is replaced.
func (p *Plan) Ops(backend string) []Op {
	var ops []Op
	for i := range p.Renames {
		if p.Renames[i].Backend == backend {
			ops = append(ops, Op{Kind: OpRename, Rename: &p.Renames[i]})
		}
	}
	for i := range p.Transfers {
		if p.Transfers[i].To == backend {
			ops = append(ops, Op{Kind: OpTransfer, Transfer: &p.Transfers[i]})
		}
	}
	for i := range p.Prunes {
		if p.Prunes[i].Backend == backend {
			ops = append(ops, Op{Kind: OpPrune, Prune: &p.Prunes[i]})
		}
	}
	return ops
}

// Backends lists every backend that has at least one operation, local first
func (p *Plan) Backends() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	if len(p.Ops(p.Local)) > 0 {
		add(p.Local)
	}
	for _, r := range p.Renames {
		add(r.Backend)
	}
	for _, t := range p.Transfers {
		add(t.To)
	}
	for _, pr := range p.Prunes {
		add(pr.Backend)
	}
	return out
}

// Summary counts a plan's contents
type Summary struct {
	Transfers    int
	Pushes       int
	Renames      int
	Retags       int
	Prunes       int
	Unresolvable int
	Extraneous   int
}

// Summary computes plan totals
func (p *Plan) Summary() Summary {
	s := Summary{
		Transfers: len(p.Transfers),
		Renames:   len(p.Renames),
		Prunes:    len(p.Prunes),
	}
	for _, t := range p.Transfers {
		if t.From == p.Local {
			s.Pushes++
		}
		if t.Retag {
			s.Retags++
		}
	}
	for _, r := range p.Renames {
		if r.Retag {
			s.Retags++
		}
	}
	for _, w := range p.Warnings {
		switch w.Kind {
		case WarnUnresolvable:
			s.Unresolvable++
		case WarnExtraneous:
			s.Extraneous++
		}
	}
	return s
}

// PushOnly returns a copy of the plan that never changes the contents of the
// local backend: transfers into it and its prunes are dropped. Local renames
// stay, since pushes read canonical names. A song local lacks can no longer
// be pushed, so it becomes unresolvable only where a remote is missing it.
func (p *Plan) PushOnly() *Plan {
	out := &Plan{Local: p.Local, Warnings: append([]Warning(nil), p.Warnings...)}

	fetched := make(map[int]bool)
	for _, t := range p.Transfers {
		if t.To == p.Local {
			fetched[t.Song] = true
		}
	}

	warned := make(map[int]bool)
	for _, t := range p.Transfers {
		switch {
		case t.To == p.Local:
		case fetched[t.Song]:
			if !warned[t.Song] {
				warned[t.Song] = true
				out.Warnings = append(out.Warnings, Warning{Kind: WarnUnresolvable, Song: t.Song, Backend: t.To})
			}
		default:
			out.Transfers = append(out.Transfers, t)
		}
	}
	out.Renames = append(out.Renames, p.Renames...)
	for _, pr := range p.Prunes {
		if pr.Backend != p.Local {
			out.Prunes = append(out.Prunes, pr)
		}
	}
	return out
}
