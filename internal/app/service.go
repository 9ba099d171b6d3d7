package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/cache"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/config"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/filter"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/metrics"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/store"
)

type dataStore interface {
	CreateNode(context.Context, store.CreateNodeRequest) (store.TimelineNode, error)
	GetByID(context.Context, string, string) (*store.TimelineNode, error)
	UpdateNode(context.Context, store.UpdateNodeRequest) (*store.TimelineNode, error)
	DeleteSubtree(context.Context, string, string) (int, error)
	GetAllNodes(context.Context, filter.NodeFilter) ([]store.TimelineNode, error)
	GetNodeChildren(context.Context, string) ([]store.TimelineNode, error)
	GetAncestors(context.Context, string) ([]store.NodeAtDepth, error)
	GetDescendants(context.Context, string) ([]store.NodeAtDepth, error)
	CreatePolicy(context.Context, store.NodePolicy) (store.NodePolicy, error)
	DeletePolicy(context.Context, string, string) (bool, error)
	ListPolicies(context.Context, string) ([]store.NodePolicy, error)
	Ping(ctx context.Context) error
}

type viewCache interface {
	Get(context.Context, string, string, any) (cache.Generation, bool, error)
	Set(context.Context, string, cache.Generation, string, any) error
	Invalidate(context.Context, string) error
}

// Service is the timeline surface consumed by controllers and the agent.
type Service struct {
	cfg     config.Config
	store   dataStore
	views   viewCache
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// New wires the service. viewCache may be nil to disable caching; a nil
// logger or tracer falls back to a no-op.
func New(cfg config.Config, dataStore *store.HierarchyStore, viewCache *cache.ViewCache, logger *zap.Logger, collector *metrics.Collector, tracer trace.Tracer) *Service {
	s := newService(cfg, dataStore, logger, collector, tracer)
	if viewCache != nil {
		s.views = viewCache
	}
	return s
}

func newService(cfg config.Config, ds dataStore, logger *zap.Logger, collector *metrics.Collector, tracer trace.Tracer) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Service{
		cfg:     cfg,
		store:   ds,
		logger:  logger,
		metrics: collector,
		tracer:  tracer,
	}
}

// op traces and measures one store-backed operation.
type op struct {
	name    string
	started time.Time
	span    trace.Span
	s       *Service
}

func (s *Service) begin(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *op) {
	ctx, span := s.tracer.Start(ctx, "timeline."+name, trace.WithAttributes(attrs...))
	return ctx, &op{name: name, started: time.Now(), span: span, s: s}
}

func (o *op) end(err error) {
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	}
	o.span.End()
	o.s.metrics.ObserveStore(o.name, o.started, err)
}

func (s *Service) invalidate(ctx context.Context, owner string) {
	if s.views == nil {
		return
	}
	if err := s.views.Invalidate(ctx, owner); err != nil {
		s.logger.Warn("view cache invalidation failed", zap.String("user_id", owner), zap.Error(err))
	}
}

func (s *Service) CreateNode(ctx context.Context, req store.CreateNodeRequest) (store.TimelineNode, error) {
	ctx, o := s.begin(ctx, "create_node", attribute.String("user.id", req.UserID))
	node, err := s.store.CreateNode(ctx, req)
	o.end(err)
	if err != nil {
		s.logger.Warn("create node failed", zap.String("user_id", req.UserID), zap.Error(err))
		return store.TimelineNode{}, asDomainError("create node", err)
	}

	if s.metrics != nil {
		s.metrics.NodesCreated.Inc()
	}
	s.invalidate(ctx, node.UserID)
	s.logger.Info("node created",
		zap.String("node_id", node.ID),
		zap.String("user_id", node.UserID),
		zap.String("type", string(node.Type)))
	return node, nil
}

// GetByID returns the node or nil. It performs no access check.
func (s *Service) GetByID(ctx context.Context, id, requesterUserID string) (*store.TimelineNode, error) {
	ctx, o := s.begin(ctx, "get_node", attribute.String("node.id", id))
	node, err := s.store.GetByID(ctx, id, requesterUserID)
	o.end(err)
	if err != nil {
		return nil, asDomainError("get node", err)
	}
	return node, nil
}

func (s *Service) UpdateNode(ctx context.Context, req store.UpdateNodeRequest) (*store.TimelineNode, error) {
	ctx, o := s.begin(ctx, "update_node",
		attribute.String("node.id", req.ID),
		attribute.String("user.id", req.UserID))
	node, err := s.store.UpdateNode(ctx, req)
	o.end(err)
	if err != nil {
		return nil, asDomainError("update node", err)
	}
	if node == nil {
		return nil, nil
	}

	s.invalidate(ctx, node.UserID)
	s.logger.Info("node updated", zap.String("node_id", node.ID), zap.String("user_id", node.UserID))
	return node, nil
}

// DeleteNode removes the node and everything below it.
func (s *Service) DeleteNode(ctx context.Context, id, userID string) (bool, error) {
	ctx, o := s.begin(ctx, "delete_node",
		attribute.String("node.id", id),
		attribute.String("user.id", userID))

	removed, err := s.store.DeleteSubtree(ctx, id, userID)
	o.end(err)
	if err != nil {
		s.logger.Error("delete node failed", zap.String("node_id", id), zap.String("user_id", userID), zap.Error(err))
		return false, asDomainError("delete node", err)
	}
	if removed == 0 {
		return false, nil
	}

	if s.metrics != nil {
		s.metrics.NodesDeleted.Add(float64(removed))
	}
	s.invalidate(ctx, userID)
	s.logger.Info("node deleted",
		zap.String("node_id", id),
		zap.String("user_id", userID),
		zap.Int("count", removed))
	return true, nil
}

// GetAllNodes resolves f against the store. Views of another user's
// timeline are served from the cache when one is configured.
func (s *Service) GetAllNodes(ctx context.Context, f filter.NodeFilter) ([]store.TimelineNode, error) {
	ctx, o := s.begin(ctx, "get_all_nodes",
		attribute.String("user.id", f.CurrentUserID()),
		attribute.String("target_user.id", f.TargetUserID()),
		attribute.String("level", string(f.Level())))

	cacheable := s.views != nil && f.TargetExplicit() && !f.IsSameUser()
	var gen cache.Generation
	if cacheable {
		var cached []store.TimelineNode
		g, hit, err := s.views.Get(ctx, f.TargetUserID(), f.CacheKey(), &cached)
		switch {
		case err != nil:
			cacheable = false
			s.logger.Warn("view cache read failed", zap.String("target_user_id", f.TargetUserID()), zap.Error(err))
		case hit:
			o.end(nil)
			if s.metrics != nil {
				s.metrics.CacheHits.Inc()
				s.metrics.VisibleNodes.Observe(float64(len(cached)))
			}
			return cached, nil
		default:
			gen = g
			if s.metrics != nil {
				s.metrics.CacheMisses.Inc()
			}
		}
	}

	nodes, err := s.store.GetAllNodes(ctx, f)
	o.end(err)
	if err != nil {
		return nil, asDomainError("get all nodes", err)
	}

	if cacheable {
		if err := s.views.Set(ctx, f.TargetUserID(), gen, f.CacheKey(), nodes); err != nil {
			s.logger.Warn("view cache write failed", zap.String("target_user_id", f.TargetUserID()), zap.Error(err))
		}
	}
	if s.metrics != nil {
		s.metrics.VisibleNodes.Observe(float64(len(nodes)))
	}
	s.logger.Debug("nodes resolved",
		zap.String("user_id", f.CurrentUserID()),
		zap.String("target_user_id", f.TargetUserID()),
		zap.Int("count", len(nodes)))
	return nodes, nil
}

func (s *Service) GetNodeChildren(ctx context.Context, parentID string) ([]store.TimelineNode, error) {
	ctx, o := s.begin(ctx, "get_node_children", attribute.String("node.id", parentID))
	nodes, err := s.store.GetNodeChildren(ctx, parentID)
	o.end(err)
	if err != nil {
		return nil, asDomainError("get node children", err)
	}
	return nodes, nil
}

func (s *Service) GetAncestors(ctx context.Context, nodeID string) ([]store.NodeAtDepth, error) {
	ctx, o := s.begin(ctx, "get_ancestors", attribute.String("node.id", nodeID))
	nodes, err := s.store.GetAncestors(ctx, nodeID)
	o.end(err)
	if err != nil {
		return nil, asDomainError("get ancestors", err)
	}
	return nodes, nil
}

func (s *Service) GetDescendants(ctx context.Context, nodeID string) ([]store.NodeAtDepth, error) {
	ctx, o := s.begin(ctx, "get_descendants", attribute.String("node.id", nodeID))
	nodes, err := s.store.GetDescendants(ctx, nodeID)
	o.end(err)
	if err != nil {
		return nil, asDomainError("get descendants", err)
	}
	return nodes, nil
}

// Ping verifies the database connection is alive
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
