package loader

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"xaiviz/internal/pickle"
)

// Optional codecs register themselves from their package init; importing
// the codec package is what makes its strategies available. The registry is
// therefore a capability probe, not configuration: absent codecs are
// omitted from the chain, never inserted as failing placeholders.

// Codec ranks fix where optional strategies slot into the chain. The core
// strategies occupy the ends: the array-aware container first, the
// permissive unpickler last.
const (
	RankSecondaryPickle = 10
	RankObjectCodec     = 20
)

type codecEntry struct {
	name    string
	rank    int
	factory func() []Strategy
}

var (
	codecMu sync.Mutex
	codecs  []codecEntry
)

// RegisterCodec makes an optional codec's strategies available to every
// registry built afterwards. Call it from package init.
func RegisterCodec(name string, rank int, factory func() []Strategy) {
	codecMu.Lock()
	defer codecMu.Unlock()
	for _, c := range codecs {
		if c.name == name {
			log.Warn().Str("codec", name).Msg("duplicate codec registration ignored")
			return
		}
	}
	codecs = append(codecs, codecEntry{name: name, rank: rank, factory: factory})
}

// Registry holds the ordered, available strategy chain. The order is fixed
// and identical across calls and processes given the same set of registered
// codecs.
type Registry struct {
	strategies []Strategy
}

// NewRegistry builds the chain: joblib variants, the standard pickle
// encodings, any registered optional codecs in rank order, and the custom
// unpickler as last resort.
func NewRegistry() *Registry {
	return newRegistry(registeredStrategies())
}

func registeredStrategies() []Strategy {
	codecMu.Lock()
	defer codecMu.Unlock()
	sorted := append([]codecEntry{}, codecs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].rank < sorted[j].rank })
	var extra []Strategy
	for _, c := range sorted {
		extra = append(extra, c.factory()...)
	}
	return extra
}

func newRegistry(optional []Strategy) *Registry {
	chain := []Strategy{
		joblibStrategy{fromFile: false},
		joblibStrategy{fromFile: true},
		pickleStrategy{mode: pickle.Latin1},
		pickleStrategy{mode: pickle.Bytes},
		pickleStrategy{mode: pickle.ASCII},
	}
	chain = append(chain, optional...)
	chain = append(chain, customUnpicklerStrategy{})
	return &Registry{strategies: chain}
}

// Strategies returns the chain in priority order.
func (r *Registry) Strategies() []Strategy {
	return r.strategies
}

// Names lists the chain's display names in order, for logging.
func (r *Registry) Names() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name()
	}
	return names
}
