package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/peteski22/shopbridge/internal/batch"
	"github.com/peteski22/shopbridge/internal/model"
	"github.com/peteski22/shopbridge/internal/relation"
	"github.com/peteski22/shopbridge/internal/validation"
)

// StatusMapping maps a source order status onto a target order status.
type StatusMapping struct {
	// Source is the status in the source system.
	Source string

	// Target is the status in the target system.
	Target string
}

// OrderOptions controls one order synchronization run.
type OrderOptions struct {
	// Additional is the id of the target custom field holding the source order id.
	// When set, it is written on created orders and used as a last resort match.
	Additional string

	// DoCreate enables creating target orders.
	DoCreate bool

	// DoUpdate enables updating matched target orders.
	DoUpdate bool

	// Repository stores the source to target relations.
	Repository relation.Repository

	// Since bounds the source fetch. Zero means every order.
	Since time.Time

	// Status maps source statuses onto target statuses. Unmapped statuses pass through unchanged.
	Status []StatusMapping

	// TestKey is stamped on every relation recorded by the run.
	TestKey string

	// Throw makes Synchronize return the joined per-order errors.
	Throw bool
}

// OrdersConfig holds the collaborators of an OrdersSynchronizer.
type OrdersConfig struct {
	// ChunkSize is the number of values sent per target call. Zero uses the batch default.
	ChunkSize int

	// Logger is the structured logger.
	Logger *slog.Logger

	// Source provides the orders to synchronize.
	Source OrderSource

	// Target receives the orders.
	Target OrderTarget
}

func (c *OrdersConfig) validate() error {
	var errs []error
	if c.Source == nil {
		errs = append(errs, errors.New("order source is required"))
	}
	if c.Target == nil {
		errs = append(errs, errors.New("order target is required"))
	}
	return errors.Join(errs...)
}

// OrdersSynchronizer pushes source orders to the target, creating or updating them.
type OrdersSynchronizer struct {
	chunk     []batch.Option
	logger    *slog.Logger
	source    OrderSource
	target    OrderTarget
	validator *validation.Validator
}

// orderPlan follows one valid source order through resolution.
type orderPlan struct {
	err    error
	source model.Order
	target *model.Order
}

// orderWrite is one payload sent to the target on behalf of a plan.
type orderWrite struct {
	order model.Order
	plan  *orderPlan
}

// NewOrdersSynchronizer creates an OrdersSynchronizer.
func NewOrdersSynchronizer(cfg OrdersConfig) (*OrdersSynchronizer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OrdersSynchronizer{
		chunk:     chunkOptions(cfg.ChunkSize),
		logger:    logger,
		source:    cfg.Source,
		target:    cfg.Target,
		validator: validation.New(),
	}, nil
}

// Synchronize runs one order synchronization.
//
// Each valid source order is matched to a target order through its recorded relation, then by external
// code, then by the additional field. Matched orders are updated with whatever changed; the rest are
// created. Per-order failures are collected in the result and only returned when opts.Throw is set.
func (s *OrdersSynchronizer) Synchronize(ctx context.Context, opts OrderOptions) (*Result, error) {
	if opts.Repository == nil {
		return nil, errors.New("relation repository is required")
	}

	result := &Result{Kind: KindOrders}

	orders, err := s.source.Orders(ctx, opts.Since)
	if err != nil {
		return nil, fmt.Errorf("fetching source orders: %w", err)
	}
	result.Processed = len(orders)

	s.logger.Info("fetched source orders", "count", len(orders), "since", opts.Since)

	checked := validation.SplitTwoPass(s.validator, batch.Entries(orders))
	reject(s.logger, result, checked.Errors())

	// Relations and the external code fallback are keyed by the source id.
	identified := validation.Split(s.validator, checked.Valid, validation.Field("ID", "required"))
	reject(s.logger, result, identified.Errors())

	plans := make([]*orderPlan, len(identified.Valid))
	for i, e := range identified.Valid {
		plans[i] = &orderPlan{source: e.Value}
	}

	if err := s.resolveRelated(ctx, opts, plans, result); err != nil {
		return nil, err
	}
	s.resolveByExternalCode(ctx, opts, plans, result)
	if opts.Additional != "" {
		s.resolveByAttribute(ctx, opts, plans, result)
	}

	creates, updates := s.plan(ctx, opts, plans, result)
	s.create(ctx, opts, creates, result)
	s.update(ctx, updates, result)

	logResult(s.logger, result)

	if opts.Throw {
		if err := result.Err(); err != nil {
			return result, err
		}
	}

	return result, nil
}

// resolveRelated verifies the recorded relations. Relations pointing at deleted target orders are destroyed.
func (s *OrdersSynchronizer) resolveRelated(ctx context.Context, opts OrderOptions, plans []*orderPlan, result *Result) error {
	ids := make([]string, len(plans))
	for i, p := range plans {
		ids[i] = p.source.ID
	}

	relations, err := opts.Repository.BySourceIDs(ctx, distinct(ids))
	if err != nil {
		return fmt.Errorf("loading order relations: %w", err)
	}
	index := relation.BySource(relations)

	var (
		related   []*orderPlan
		targetIDs []string
	)
	for _, p := range plans {
		if r, ok := index[p.source.ID]; ok {
			related = append(related, p)
			targetIDs = append(targetIDs, r.TargetID)
		}
	}

	items := batch.Lookup(
		ctx,
		targetIDs,
		batch.DispatchFunc[string, []model.Order](s.target.OrdersByIDs),
		extractBy(func(o model.Order) string { return o.ID }),
		s.chunk...,
	)

	for _, item := range items {
		p := related[item.Key]

		switch {
		case item.OK():
			target := item.Entities[0]
			p.target = &target
		case item.Err.Type == batch.ErrorTypeNotFound:
			stale := index[p.source.ID]
			s.logger.Warn("related target order not found, dropping relation",
				"order_id", p.source.ID,
				"target_id", stale.TargetID)

			destroyed, err := opts.Repository.Destroy(ctx, stale)
			if err != nil {
				p.err = fmt.Errorf("destroying stale relation of order %s: %w", p.source.ID, err)
				continue
			}
			if destroyed {
				result.RelationsDestroyed++
			}
		default:
			p.err = item.Err
		}
	}

	return nil
}

// resolveByExternalCode matches unresolved orders by the external code a created order would carry.
func (s *OrdersSynchronizer) resolveByExternalCode(ctx context.Context, opts OrderOptions, plans []*orderPlan, result *Result) {
	pending := unresolved(plans)
	codes := make([]string, len(pending))
	for i, p := range pending {
		codes[i] = externalCode(p.source)
	}

	items := batch.Lookup(
		ctx,
		codes,
		batch.DispatchFunc[string, []model.Order](s.target.OrdersByExternalCodes),
		extractBy(func(o model.Order) string { return o.ExternalCode }),
		s.chunk...,
	)

	s.adopt(ctx, opts, pending, items, "external_code", result)
}

// resolveByAttribute matches unresolved orders whose additional field holds their source id.
func (s *OrdersSynchronizer) resolveByAttribute(ctx context.Context, opts OrderOptions, plans []*orderPlan, result *Result) {
	pending := unresolved(plans)
	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.source.ID
	}

	items := batch.Lookup(
		ctx,
		ids,
		batch.DispatchFunc[string, []model.Order](func(ctx context.Context, values []string) ([]model.Order, error) {
			return s.target.OrdersByAttribute(ctx, opts.Additional, values)
		}),
		extractBy(func(o model.Order) string {
			v, _ := o.Attribute(opts.Additional)
			return v
		}),
		s.chunk...,
	)

	s.adopt(ctx, opts, pending, items, "additional", result)
}

// adopt takes the lookup hits as targets of their plans and records a relation for each.
// A plan whose relation cannot be recorded fails instead of being written.
func (s *OrdersSynchronizer) adopt(
	ctx context.Context,
	opts OrderOptions,
	pending []*orderPlan,
	items []batch.Item[string, model.Order],
	matchedBy string,
	result *Result,
) {
	for _, item := range items {
		p := pending[item.Key]

		switch {
		case item.OK():
			if len(item.Entities) > 1 {
				s.logger.Warn("several target orders match, using the first",
					"order_id", p.source.ID,
					"matched_by", matchedBy,
					"matches", len(item.Entities))
			}
			if err := s.relate(ctx, opts, p.source.ID, item.Entities[0].ID, result); err != nil {
				p.err = err
				continue
			}
			target := item.Entities[0]
			p.target = &target
		case item.Err.Type == batch.ErrorTypeNotFound:
		default:
			p.err = item.Err
		}
	}
}

// plan turns resolved orders into create and update payloads.
func (s *OrdersSynchronizer) plan(ctx context.Context, opts OrderOptions, plans []*orderPlan, result *Result) ([]orderWrite, []orderWrite) {
	statuses := make(map[string]string, len(opts.Status))
	for _, m := range opts.Status {
		statuses[m.Source] = m.Target
	}

	var needCatalog []model.Order
	for _, p := range plans {
		switch {
		case p.err != nil:
		case p.target == nil && opts.DoCreate:
			needCatalog = append(needCatalog, p.source)
		case p.target != nil && opts.DoUpdate && positionsDiffer(p.source.Positions, p.target.Positions):
			needCatalog = append(needCatalog, p.source)
		}
	}
	catalog := s.loadCatalog(ctx, needCatalog)

	var creates, updates []orderWrite
	for _, p := range plans {
		if p.err != nil {
			reject(s.logger, result, []error{p.err})
			continue
		}

		status := mapStatus(statuses, p.source.Status)

		if p.target == nil {
			if !opts.DoCreate {
				result.Skipped++
				continue
			}

			positions, err := catalog.resolve(p.source)
			if err != nil {
				reject(s.logger, result, []error{err})
				continue
			}

			order := model.Order{
				Description:  p.source.Description,
				ExternalCode: externalCode(p.source),
				Moment:       p.source.Moment,
				Name:         p.source.Name,
				Positions:    positions,
				Status:       status,
			}
			if opts.Additional != "" {
				order.Attributes = []model.Attribute{{ID: opts.Additional, Value: p.source.ID}}
			}
			creates = append(creates, orderWrite{order: order, plan: p})
			continue
		}

		if !opts.DoUpdate {
			result.Skipped++
			continue
		}

		update := model.Order{ID: p.target.ID}
		changed := false

		if status != "" && status != p.target.Status {
			update.Status = status
			changed = true
		}

		if positionsDiffer(p.source.Positions, p.target.Positions) {
			positions, err := catalog.resolve(p.source)
			if err != nil {
				reject(s.logger, result, []error{err})
				continue
			}
			update.Positions = positions
			changed = true
		}

		if !changed {
			result.Unchanged++
			continue
		}
		updates = append(updates, orderWrite{order: update, plan: p})
	}

	return creates, updates
}

func (s *OrdersSynchronizer) create(ctx context.Context, opts OrderOptions, writes []orderWrite, result *Result) {
	items := s.save(ctx, writes, func(o model.Order) string { return o.ExternalCode }, result)

	for _, item := range items {
		w := writes[item.Key]
		if !item.OK() {
			reject(s.logger, result, []error{item.Err})
			continue
		}

		created := item.Entities[0]
		result.Created++
		s.logger.Info("created order",
			"order_id", w.plan.source.ID,
			"target_id", created.ID,
			"status", w.order.Status)

		if err := s.relate(ctx, opts, w.plan.source.ID, created.ID, result); err != nil {
			reject(s.logger, result, []error{err})
		}
	}
}

func (s *OrdersSynchronizer) update(ctx context.Context, writes []orderWrite, result *Result) {
	items := s.save(ctx, writes, func(o model.Order) string { return o.ID }, result)

	for _, item := range items {
		w := writes[item.Key]
		if !item.OK() {
			reject(s.logger, result, []error{item.Err})
			continue
		}

		result.Updated++
		s.logger.Info("updated order",
			"order_id", w.plan.source.ID,
			"target_id", w.order.ID,
			"status", w.order.Status,
			"positions_changed", w.order.Positions != nil)
	}
}

// save validates and writes the payloads, returning one item per valid payload keyed by its write index.
func (s *OrdersSynchronizer) save(
	ctx context.Context,
	writes []orderWrite,
	key func(model.Order) string,
	result *Result,
) []batch.Item[string, model.Order] {
	if len(writes) == 0 {
		return nil
	}

	orders := make([]model.Order, len(writes))
	for i, w := range writes {
		orders[i] = w.order
	}

	checked := validation.SplitTwoPass(s.validator, batch.Entries(orders))
	reject(s.logger, result, checked.Errors())

	d := batch.GetByChunks(
		ctx,
		checked.Valid,
		batch.Identity[model.Order](),
		batch.DispatchFunc[model.Order, []model.Order](s.target.SaveOrders),
		s.chunk...,
	)

	return batch.MapResults(batch.KeyChunks(d.Chunks, key), d.Wait(), extractBy(key))
}

func (s *OrdersSynchronizer) relate(ctx context.Context, opts OrderOptions, sourceID string, targetID string, result *Result) error {
	created, err := opts.Repository.Create(ctx, relation.Relation{
		SourceID: sourceID,
		TargetID: targetID,
		TestKey:  opts.TestKey,
	})
	if err != nil {
		return fmt.Errorf("recording relation of order %s: %w", sourceID, err)
	}
	if created {
		result.RelationsCreated++
	}
	return nil
}

// catalog holds the target products the positions of a run resolve to.
type catalog struct {
	byArticle map[string]model.Product
	byID      map[string]model.Product
	failed    map[string]*batch.ByError
}

// loadCatalog looks up every product the positions refer to, by id first and then by article.
func (s *OrdersSynchronizer) loadCatalog(ctx context.Context, orders []model.Order) *catalog {
	c := &catalog{
		byArticle: make(map[string]model.Product),
		byID:      make(map[string]model.Product),
		failed:    make(map[string]*batch.ByError),
	}

	var ids []string
	for _, o := range orders {
		for _, p := range o.Positions {
			if p.ProductID != "" {
				ids = append(ids, p.ProductID)
			}
		}
	}

	for _, item := range batch.Lookup(
		ctx,
		distinct(ids),
		batch.DispatchFunc[string, []model.Product](s.target.ProductsByIDs),
		extractBy(func(p model.Product) string { return p.ID }),
		s.chunk...,
	) {
		c.record(c.byID, "id:", item)
	}

	var articles []string
	for _, o := range orders {
		for _, p := range o.Positions {
			if _, ok := c.byID[p.ProductID]; !ok && p.Article != "" {
				articles = append(articles, p.Article)
			}
		}
	}

	for _, item := range batch.Lookup(
		ctx,
		distinct(articles),
		batch.DispatchFunc[string, []model.Product](s.target.ProductsByArticles),
		extractBy(func(p model.Product) string { return p.Article }),
		s.chunk...,
	) {
		c.record(c.byArticle, "article:", item)
	}

	return c
}

func (c *catalog) record(into map[string]model.Product, prefix string, item batch.Item[string, model.Product]) {
	switch {
	case item.OK():
		into[item.Value] = item.Entities[0]
	case item.Err.Type != batch.ErrorTypeNotFound:
		c.failed[prefix+item.Value] = item.Err
	}
}

// resolve maps every position of order onto a target product. A single unresolved position fails the order.
func (c *catalog) resolve(order model.Order) ([]model.Position, error) {
	positions := make([]model.Position, len(order.Positions))

	for i, pos := range order.Positions {
		product, err := c.find(pos)
		if err != nil {
			return nil, &batch.ByError{
				Type:   err.Type,
				Value:  order.ID,
				Reason: fmt.Errorf("position %s: %w", cmp.Or(pos.ProductID, pos.Article), err),
			}
		}

		positions[i] = model.Position{
			Article:   product.Article,
			Name:      cmp.Or(pos.Name, product.Name),
			Price:     pos.Price,
			ProductID: product.ID,
			Quantity:  pos.Quantity,
		}
	}

	return positions, nil
}

func (c *catalog) find(pos model.Position) (model.Product, *batch.ByError) {
	if pos.ProductID != "" {
		if p, ok := c.byID[pos.ProductID]; ok {
			return p, nil
		}
	}
	if pos.Article != "" {
		if p, ok := c.byArticle[pos.Article]; ok {
			return p, nil
		}
	}

	if err, ok := c.failed["id:"+pos.ProductID]; ok && pos.ProductID != "" {
		return model.Product{}, err
	}
	if err, ok := c.failed["article:"+pos.Article]; ok && pos.Article != "" {
		return model.Product{}, err
	}

	return model.Product{}, &batch.ByError{
		Type:  batch.ErrorTypeNotFound,
		Value: cmp.Or(pos.ProductID, pos.Article),
	}
}

func unresolved(plans []*orderPlan) []*orderPlan {
	var pending []*orderPlan
	for _, p := range plans {
		if p.err == nil && p.target == nil {
			pending = append(pending, p)
		}
	}
	return pending
}

// externalCode is the code a target order created for source carries.
func externalCode(source model.Order) string {
	return cmp.Or(source.ExternalCode, source.ID)
}

func mapStatus(statuses map[string]string, status string) string {
	if mapped, ok := statuses[status]; ok {
		return mapped
	}
	return status
}

// positionsDiffer compares line items by product, quantity and price, ignoring their order.
func positionsDiffer(source []model.Position, target []model.Position) bool {
	if len(source) != len(target) {
		return true
	}

	compare := func(a, b model.Position) int {
		return cmp.Or(
			cmp.Compare(positionKey(a), positionKey(b)),
			cmp.Compare(a.Quantity, b.Quantity),
			a.Price.Cmp(b.Price),
		)
	}

	a := sortedClone(source, compare)
	b := sortedClone(target, compare)
	for i := range a {
		if compare(a[i], b[i]) != 0 {
			return true
		}
	}

	return false
}

func positionKey(p model.Position) string {
	return cmp.Or(p.Article, p.ProductID)
}
