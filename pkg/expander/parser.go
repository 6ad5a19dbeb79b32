package expander

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/openfga/expander/internal/build"
	"github.com/openfga/expander/pkg/logger"
)

var truncationsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: build.ProjectID,
	Name:      "parser_truncations_total",
	Help:      "The total number of expansion items truncated by the parser, by reason.",
}, []string{"reason"})

// Parser turns the expansion directive of a request into an expansion tree
// validated against the serializer graph of an adapter.
type Parser struct {
	adapter *Adapter
	logger  logger.Logger

	ExpansionKey        string
	ItemSeparator       string
	PathSeparator       string
	MaxDepth            int
	FailOnDepthBreached bool
	FailOnFieldMissing  bool
}

type ParserOption func(*Parser)

// WithSettings copies the parser related fields of s.
func WithSettings(s Settings) ParserOption {
	return func(p *Parser) {
		p.ExpansionKey = s.ExpansionKey
		p.ItemSeparator = s.ItemSeparator
		p.PathSeparator = s.PathSeparator
		p.MaxDepth = s.MaxDepth
		p.FailOnDepthBreached = s.FailOnDepthBreached
		p.FailOnFieldMissing = s.FailOnFieldMissing
	}
}

func WithExpansionKey(key string) ParserOption {
	return func(p *Parser) {
		p.ExpansionKey = key
	}
}

func WithSeparators(item, path string) ParserOption {
	return func(p *Parser) {
		p.ItemSeparator = item
		p.PathSeparator = path
	}
}

func WithMaxDepth(depth int) ParserOption {
	return func(p *Parser) {
		p.MaxDepth = depth
	}
}

// WithStrict sets both failure policies.
func WithStrict(depthBreached, fieldMissing bool) ParserOption {
	return func(p *Parser) {
		p.FailOnDepthBreached = depthBreached
		p.FailOnFieldMissing = fieldMissing
	}
}

func WithParserLogger(l logger.Logger) ParserOption {
	return func(p *Parser) {
		p.logger = l
	}
}

// NewParser returns a parser for a, configured with DefaultSettings unless
// overridden by opts.
func NewParser(a *Adapter, opts ...ParserOption) *Parser {
	p := &Parser{
		adapter: a,
		logger:  logger.NewNoopLogger(),
	}
	WithSettings(DefaultSettings())(p)

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Directive returns the raw expansion directive of the request, empty when
// the request carries none.
func (p *Parser) Directive() string {
	return p.adapter.Context().QueryParam(p.ExpansionKey)
}

// Parse builds the expansion tree. In permissive mode items deeper than
// MaxDepth are truncated and an item stops at its first segment that does not
// name a nested field. In strict mode those cases fail with ErrDepthBreached
// and ErrFieldMissing.
func (p *Parser) Parse(ctx context.Context) (*Context, error) {
	root := NewContext(nil, nil)

	directive := p.Directive()
	if directive == "" {
		return root, nil
	}

	for _, item := range strings.Split(directive, p.ItemSeparator) {
		if item == "" {
			continue
		}

		segments := strings.SplitN(item, p.PathSeparator, p.MaxDepth+1)
		if len(segments) > p.MaxDepth {
			if p.FailOnDepthBreached {
				return nil, depthBreachedError(item, p.MaxDepth)
			}
			truncationsCounter.WithLabelValues("depth").Inc()
			p.logger.DebugWithContext(ctx, "expansion item truncated",
				zap.String("item", item), zap.Int("max_depth", p.MaxDepth))
			segments = segments[:p.MaxDepth]
		}

		if err := p.parseItem(ctx, root, item, segments); err != nil {
			return nil, err
		}
	}

	return root, nil
}

func (p *Parser) parseItem(ctx context.Context, root *Context, item string, segments []string) error {
	node := root
	s := p.adapter.ObjectSerializer()

	for _, field := range segments {
		next := s.Nested(field)
		if next == nil {
			if p.FailOnFieldMissing {
				return fieldMissingError(field, item)
			}
			truncationsCounter.WithLabelValues("field").Inc()
			p.logger.DebugWithContext(ctx, "expansion item names an unknown field",
				zap.String("item", item), zap.String("field", field))
			return nil
		}

		s = next
		node = node.child(field, s)
	}

	return nil
}
