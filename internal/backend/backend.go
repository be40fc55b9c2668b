// Package backend abstracts the locations that hold library files: the local
// store and any number of remote targets.
package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/franz/electric/internal/util"
)

// Backend is a location that can list, transfer, retag and remove files.
// Names are slash-separated and relative to the location root.
type Backend interface {
	Name() string
	List(ctx context.Context) ([]string, error)
	// Fetch copies name from the backend to the local path dest
	Fetch(ctx context.Context, name, dest string) error
	// Send copies the local path src to name on the backend
	Send(ctx context.Context, src, name string) error
	// Retag replaces the tag header of name with blob, leaving audio intact
	Retag(ctx context.Context, name string, blob []byte) error
	Rename(ctx context.Context, from, to string) error
	Remove(ctx context.Context, name string) error
}

// Pather is implemented by backends whose files are directly addressable on
// the local filesystem
type Pather interface {
	Path(name string) string
}

// Kind identifies a backend variant
type Kind string

const (
	KindLocal Kind = "local"
	KindADB   Kind = "adb"
)

// Spec is a parsed backend location string:
//
//	adb:<serial>:<dir>   Android device (empty serial = the only device)
//	<dir>                local directory
type Spec struct {
	Kind   Kind
	Serial string
	Dir    string
}

func (s Spec) String() string {
	if s.Kind == KindADB {
		return fmt.Sprintf("adb:%s:%s", s.Serial, s.Dir)
	}
	return s.Dir
}

// ParseSpec decodes a location string
func ParseSpec(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Spec{}, fmt.Errorf("%w: empty backend location", util.ErrInvalidConfig)
	}

	if rest, ok := strings.CutPrefix(raw, "adb:"); ok {
		serial, dir, ok := strings.Cut(rest, ":")
		if !ok || dir == "" {
			return Spec{}, fmt.Errorf("%w: %q: expected adb:<serial>:<dir>", util.ErrInvalidConfig, raw)
		}
		if !strings.HasPrefix(dir, "/") {
			return Spec{}, fmt.Errorf("%w: %q: device directory must be absolute", util.ErrInvalidConfig, raw)
		}
		return Spec{Kind: KindADB, Serial: serial, Dir: strings.TrimRight(dir, "/")}, nil
	}

	return Spec{Kind: KindLocal, Dir: raw}, nil
}

// Options configures backend construction
type Options struct {
	ADBBinary string
	// Timeout bounds each remote command
	Timeout       time.Duration
	RetryAttempts int
	// Runner executes external commands; nil uses os/exec
	Runner util.CommandRunner
}

type factory func(name string, spec Spec, opts Options) (Backend, error)

var kinds = map[Kind]factory{
	KindLocal: func(name string, spec Spec, opts Options) (Backend, error) {
		return NewLocal(name, spec.Dir), nil
	},
	KindADB: func(name string, spec Spec, opts Options) (Backend, error) {
		retry := util.DeviceRetryConfig()
		if opts.RetryAttempts > 0 {
			retry.MaxAttempts = opts.RetryAttempts
		}
		return NewADB(ADBConfig{
			Name:    name,
			Serial:  spec.Serial,
			Dir:     spec.Dir,
			Binary:  opts.ADBBinary,
			Runner:  opts.Runner,
			Timeout: opts.Timeout,
			Retry:   retry,
		}), nil
	},
}

// Kinds lists the supported backend variants
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Open constructs the backend a location string describes
func Open(name, raw string, opts Options) (Backend, error) {
	spec, err := ParseSpec(raw)
	if err != nil {
		return nil, err
	}
	build, ok := kinds[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: backend kind %q", util.ErrUnsupported, spec.Kind)
	}
	return build(name, spec, opts)
}
