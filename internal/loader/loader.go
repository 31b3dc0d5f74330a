package loader

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// Metrics is the instrumentation surface the loader reports into. A nil
// implementation is fine.
type Metrics interface {
	LoadSuccessInc(strategy string)
	LoadFailureInc()
	StrategyAttemptInc(strategy string)
}

// Context orchestrates sequential strategy attempts over the registry. It
// performs no caching: every load re-attempts the full chain from scratch.
type Context struct {
	registry *Registry
	fetcher  *Fetcher
	metrics  Metrics
}

// New builds a context over the registered strategy chain. fetcher and
// metrics may be nil.
func New(fetcher *Fetcher, metrics Metrics) *Context {
	return &Context{registry: NewRegistry(), fetcher: fetcher, metrics: metrics}
}

// LoadModel reads the artifact once and walks the strategy chain in order,
// returning the decoded handle and the winning strategy's display name. The
// name is for observability only; callers must not branch on it.
func (c *Context) LoadModel(path string) (any, string, error) {
	art, err := c.readArtifact(path)
	if err != nil {
		if c.metrics != nil {
			c.metrics.LoadFailureInc()
		}
		return nil, "", err
	}

	agg := &AggregatedError{Path: path}
	for _, s := range c.registry.Strategies() {
		if fb, ok := s.(fileBacked); ok && fb.FileBacked() && art.Remote {
			continue
		}
		if c.metrics != nil {
			c.metrics.StrategyAttemptInc(s.Name())
		}
		handle, err := s.Attempt(art)
		if err == nil {
			log.Info().Str("strategy", s.Name()).Str("path", path).Msg("model loaded")
			if c.metrics != nil {
				c.metrics.LoadSuccessInc(s.Name())
			}
			return handle, s.Name(), nil
		}
		log.Debug().Str("strategy", s.Name()).Err(err).Msg("strategy failed")
		agg.Attempts = append(agg.Attempts, newLoadError(s.Name(), err))
	}

	if c.metrics != nil {
		c.metrics.LoadFailureInc()
	}
	log.Warn().Str("path", path).Int("attempts", len(agg.Attempts)).Msg("all strategies failed")
	return nil, "", agg
}

// readArtifact materializes the artifact bytes: one blocking read for local
// paths, one fetch for http(s) URLs.
func (c *Context) readArtifact(path string) (*Artifact, error) {
	if isRemote(path) {
		if c.fetcher == nil {
			return nil, &FileAccessError{Path: path, Err: errRemoteDisabled}
		}
		data, err := c.fetcher.Fetch(path)
		if err != nil {
			return nil, &FileAccessError{Path: path, Err: err}
		}
		return &Artifact{Path: path, Bytes: data, Remote: true}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileAccessError{Path: path, Err: err}
	}
	return &Artifact{Path: path, Bytes: data}, nil
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}
