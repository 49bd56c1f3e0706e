package streams

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gshop/live-backend/internal/apperr"
	"github.com/gshop/live-backend/internal/models"
)

// ChannelManager supplies broadcast channels for new streams and tears them
// down on delete.
type ChannelManager interface {
	Acquire(ctx context.Context, host models.Host) (*models.Channel, error)
	Destroy(ctx context.Context, channelID string) error
}

// Notifier delivers fire-and-forget notifications. Implementations handle
// their own errors; calls never block the triggering mutation.
type Notifier interface {
	NotifyFollowers(streamID uuid.UUID, host models.Host, title string)
	NotifyDashboard(event string, payload interface{})
}

// StatusBroadcaster pushes a status change to every connection in the
// stream's room so clients detach on their own after end().
type StatusBroadcaster interface {
	BroadcastStatus(streamID uuid.UUID, status models.StreamStatus)
}

// Snapshotter records one final metrics sample when a stream ends.
type Snapshotter interface {
	CollectStream(ctx context.Context, streamID uuid.UUID) error
}

// SessionCounter counts unique historical viewers from persisted sessions.
type SessionCounter interface {
	CountUnique(ctx context.Context, streamID uuid.UUID) (int, error)
}

// MessageCounter counts client-visible chat messages for a stream.
type MessageCounter interface {
	CountVisible(ctx context.Context, streamID uuid.UUID) (int, error)
}

// RoomCounter reports the live in-memory viewer count for a stream.
type RoomCounter interface {
	Count(streamID uuid.UUID) int
}

// StreamRepo is the persistence surface the service needs for streams.
type StreamRepo interface {
	Create(ctx context.Context, s *models.Stream) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	GetByIDForHost(ctx context.Context, id uuid.UUID, host models.Host) (*models.Stream, error)
	UpdateDetails(ctx context.Context, s *models.Stream) error
	Start(ctx context.Context, id uuid.UUID) (bool, error)
	End(ctx context.Context, id uuid.UUID) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListLive(ctx context.Context) ([]models.Stream, error)
	ListByHost(ctx context.Context, host models.Host) ([]models.Stream, error)
}

// ProductRepo is the persistence surface for the shopping rail.
type ProductRepo interface {
	Add(ctx context.Context, p *models.StreamProduct) error
	Remove(ctx context.Context, streamID, productID uuid.UUID) (bool, error)
	Highlight(ctx context.Context, streamID, productID uuid.UUID) (bool, error)
	Unhighlight(ctx context.Context, streamID uuid.UUID) error
	ListByStream(ctx context.Context, streamID uuid.UUID) ([]models.StreamProduct, error)
}

// Service implements the stream lifecycle. Status moves forward only:
// SCHEDULED -> LIVE -> ENDED, or SCHEDULED -> CANCELLED, enforced by
// conditional updates at the row. Every mutating call resolves the stream
// through the host-scoped lookup; a miss is NotFound regardless of whether
// the stream exists under another host.
type Service struct {
	repo        StreamRepo
	products    ProductRepo
	channels    ChannelManager
	notifier    Notifier
	broadcaster StatusBroadcaster
	snapshotter Snapshotter
	sessions    SessionCounter
	messages    MessageCounter
	rooms       RoomCounter
	logger      *zap.Logger
}

// NewService creates a stream service. broadcaster, snapshotter, sessions,
// messages and rooms may be nil in trimmed-down wiring; the dependent
// side effects and stats fields degrade gracefully.
func NewService(repo StreamRepo, products ProductRepo, channels ChannelManager, notifier Notifier,
	broadcaster StatusBroadcaster, snapshotter Snapshotter, sessions SessionCounter,
	messages MessageCounter, rooms RoomCounter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		products:    products,
		channels:    channels,
		notifier:    notifier,
		broadcaster: broadcaster,
		snapshotter: snapshotter,
		sessions:    sessions,
		messages:    messages,
		rooms:       rooms,
		logger:      logger,
	}
}

// CreateInput is the host-supplied part of a new stream.
type CreateInput struct {
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Tags        []string   `json:"tags"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// Create acquires a broadcast channel and persists the stream bound to it.
func (s *Service) Create(ctx context.Context, host models.Host, in CreateInput) (*models.Stream, error) {
	if in.Title == "" {
		return nil, apperr.BadRequestf("title is required")
	}

	ch, err := s.channels.Acquire(ctx, host)
	if err != nil {
		return nil, err
	}

	st := &models.Stream{
		Title:       in.Title,
		Description: in.Description,
		HostType:    host.Kind,
		Category:    in.Category,
		Tags:        in.Tags,
		ScheduledAt: in.ScheduledAt,
		ChannelID:   &ch.ID,
		StreamKey:   &ch.StreamKey,
		IngestURL:   &ch.IngestURL,
		PlaybackURL: &ch.PlaybackURL,
	}
	if host.Kind == models.HostAffiliate {
		st.AffiliateID = &host.ID
	} else {
		st.SellerID = &host.ID
	}

	if err := s.repo.Create(ctx, st); err != nil {
		// The acquired channel stays unbound at the provider; the inventory
		// adoption tier picks it back up later.
		s.logger.Error("persist stream after channel acquire", zap.Error(err), zap.String("channel_id", ch.ID))
		return nil, err
	}

	s.logger.Info("stream created",
		zap.String("stream_id", st.ID.String()),
		zap.String("host_id", host.ID.String()),
		zap.String("channel_id", ch.ID))
	return st, nil
}

// Get returns a stream for public viewing.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, apperr.NotFoundf("stream %s not found", id)
	}
	return st, nil
}

// UpdateInput carries the editable stream fields. Nil pointers leave the
// current value untouched.
type UpdateInput struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Category    *string    `json:"category"`
	Tags        []string   `json:"tags"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// Update edits stream details while it is SCHEDULED or LIVE.
func (s *Service) Update(ctx context.Context, id uuid.UUID, host models.Host, in UpdateInput) (*models.Stream, error) {
	st, err := s.owned(ctx, id, host)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StatusScheduled && st.Status != models.StatusLive {
		return nil, apperr.BadRequestf("stream is %s and can no longer be edited", st.Status)
	}

	if in.Title != nil {
		if *in.Title == "" {
			return nil, apperr.BadRequestf("title cannot be empty")
		}
		st.Title = *in.Title
	}
	if in.Description != nil {
		st.Description = *in.Description
	}
	if in.Category != nil {
		st.Category = *in.Category
	}
	if in.Tags != nil {
		st.Tags = in.Tags
	}
	if in.ScheduledAt != nil {
		st.ScheduledAt = in.ScheduledAt
	}

	if err := s.repo.UpdateDetails(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Start moves the stream to LIVE and notifies the host's followers.
func (s *Service) Start(ctx context.Context, id uuid.UUID, host models.Host) (*models.Stream, error) {
	st, err := s.owned(ctx, id, host)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StatusScheduled {
		return nil, apperr.BadRequestf("cannot start a %s stream", st.Status)
	}
	ok, err := s.repo.Start(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.BadRequestf("cannot start a stream that already left scheduled")
	}

	now := time.Now()
	st.Status = models.StatusLive
	st.StartedAt = &now

	if s.notifier != nil {
		s.notifier.NotifyFollowers(st.ID, host, st.Title)
	}
	s.broadcastStatus(st.ID, models.StatusLive)

	s.logger.Info("stream started", zap.String("stream_id", st.ID.String()))
	return st, nil
}

// End moves the stream to ENDED. The channel credentials stay on the row as
// the reuse pool. The final metrics snapshot and dashboard broadcast are
// best-effort and never fail the transition.
func (s *Service) End(ctx context.Context, id uuid.UUID, host models.Host) (*models.Stream, error) {
	st, err := s.owned(ctx, id, host)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StatusLive {
		return nil, apperr.BadRequestf("cannot end a %s stream", st.Status)
	}
	ok, err := s.repo.End(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.BadRequestf("cannot end a stream that is no longer live")
	}

	now := time.Now()
	st.Status = models.StatusEnded
	st.EndedAt = &now

	s.finishSideEffects(st)

	s.logger.Info("stream ended", zap.String("stream_id", st.ID.String()))
	return st, nil
}

// Cancel drops a SCHEDULED stream that will never go live.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, host models.Host) error {
	st, err := s.owned(ctx, id, host)
	if err != nil {
		return err
	}
	if st.Status != models.StatusScheduled {
		return apperr.BadRequestf("cannot cancel a %s stream", st.Status)
	}
	return s.repo.Cancel(ctx, id)
}

// Delete removes the stream entirely and tears down its provider channel.
// Rejected while LIVE.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, host models.Host) error {
	st, err := s.owned(ctx, id, host)
	if err != nil {
		return err
	}
	if st.Status == models.StatusLive {
		return apperr.BadRequestf("cannot delete a live stream, end it first")
	}
	if st.HasChannel() {
		if err := s.channels.Destroy(ctx, *st.ChannelID); err != nil {
			s.logger.Warn("destroy channel on delete", zap.Error(err), zap.String("channel_id", *st.ChannelID))
		}
	}
	return s.repo.Delete(ctx, id)
}

// ListActive returns all streams currently LIVE.
func (s *Service) ListActive(ctx context.Context) ([]models.Stream, error) {
	return s.repo.ListLive(ctx)
}

// ListByHost returns the host's own streams, newest first.
func (s *Service) ListByHost(ctx context.Context, host models.Host) ([]models.Stream, error) {
	return s.repo.ListByHost(ctx, host)
}

// ProductInput is one product being added to the rail.
type ProductInput struct {
	ProductID    uuid.UUID `json:"product_id" binding:"required"`
	SpecialPrice *float64  `json:"special_price"`
	Position     *int      `json:"position"`
}

// AddProduct puts a product on the stream's shopping rail.
func (s *Service) AddProduct(ctx context.Context, streamID uuid.UUID, host models.Host, in ProductInput) (*models.StreamProduct, error) {
	if _, err := s.owned(ctx, streamID, host); err != nil {
		return nil, err
	}
	p := &models.StreamProduct{
		StreamID:     streamID,
		ProductID:    in.ProductID,
		SpecialPrice: in.SpecialPrice,
		Position:     in.Position,
	}
	if err := s.products.Add(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// RemoveProduct takes a product off the rail.
func (s *Service) RemoveProduct(ctx context.Context, streamID, productID uuid.UUID, host models.Host) error {
	if _, err := s.owned(ctx, streamID, host); err != nil {
		return err
	}
	ok, err := s.products.Remove(ctx, streamID, productID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFoundf("product %s is not on stream %s", productID, streamID)
	}
	return nil
}

// HighlightProduct spotlights one product, clearing any previous spotlight in
// the same transaction.
func (s *Service) HighlightProduct(ctx context.Context, streamID, productID uuid.UUID, host models.Host) error {
	if _, err := s.owned(ctx, streamID, host); err != nil {
		return err
	}
	ok, err := s.products.Highlight(ctx, streamID, productID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFoundf("product %s is not on stream %s", productID, streamID)
	}
	return nil
}

// UnhighlightProduct turns the stream's spotlight off.
func (s *Service) UnhighlightProduct(ctx context.Context, streamID uuid.UUID, host models.Host) error {
	if _, err := s.owned(ctx, streamID, host); err != nil {
		return err
	}
	return s.products.Unhighlight(ctx, streamID)
}

// ListProducts returns the stream's active rail. Public.
func (s *Service) ListProducts(ctx context.Context, streamID uuid.UUID) ([]models.StreamProduct, error) {
	if _, err := s.Get(ctx, streamID); err != nil {
		return nil, err
	}
	return s.products.ListByStream(ctx, streamID)
}

// Stats is the host-facing aggregate for one stream.
type Stats struct {
	StreamID       uuid.UUID `json:"stream_id"`
	Status         string    `json:"status"`
	CurrentViewers int       `json:"current_viewers"`
	PeakViewers    int       `json:"peak_viewers"`
	TotalViewers   int       `json:"total_viewers"`
	TotalMessages  int       `json:"total_messages"`
	LikesCount     int       `json:"likes_count"`
	TotalSales     float64   `json:"total_sales"`
	DurationSec    int       `json:"duration_seconds"`
}

// Stats aggregates live and historical numbers for the host dashboard.
func (s *Service) Stats(ctx context.Context, id uuid.UUID, host models.Host) (*Stats, error) {
	st, err := s.owned(ctx, id, host)
	if err != nil {
		return nil, err
	}

	out := &Stats{
		StreamID:    st.ID,
		Status:      string(st.Status),
		PeakViewers: st.PeakViewers,
		LikesCount:  st.LikesCount,
		TotalSales:  st.TotalSales,
	}
	if s.rooms != nil {
		out.CurrentViewers = s.rooms.Count(st.ID)
	}
	if s.sessions != nil {
		if n, err := s.sessions.CountUnique(ctx, st.ID); err == nil {
			out.TotalViewers = n
		} else {
			s.logger.Warn("count unique viewers", zap.Error(err), zap.String("stream_id", st.ID.String()))
		}
	}
	if s.messages != nil {
		if n, err := s.messages.CountVisible(ctx, st.ID); err == nil {
			out.TotalMessages = n
		} else {
			s.logger.Warn("count messages", zap.Error(err), zap.String("stream_id", st.ID.String()))
		}
	}
	if st.StartedAt != nil {
		until := time.Now()
		if st.EndedAt != nil {
			until = *st.EndedAt
		}
		out.DurationSec = int(until.Sub(*st.StartedAt).Seconds())
	}
	return out, nil
}

// owned resolves the stream through the host-scoped lookup. A miss maps to
// NotFound whether the stream is missing or belongs to someone else.
func (s *Service) owned(ctx context.Context, id uuid.UUID, host models.Host) (*models.Stream, error) {
	st, err := s.repo.GetByIDForHost(ctx, id, host)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, apperr.NotFoundf("stream %s not found", id)
	}
	return st, nil
}

func (s *Service) broadcastStatus(streamID uuid.UUID, status models.StreamStatus) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastStatus(streamID, status)
}

// finishSideEffects runs the post-end work: final metrics sample, dashboard
// notification and the room status broadcast. All best-effort.
func (s *Service) finishSideEffects(st *models.Stream) {
	if s.snapshotter != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.snapshotter.CollectStream(ctx, st.ID); err != nil {
				s.logger.Error("final metrics snapshot", zap.Error(err), zap.String("stream_id", st.ID.String()))
			}
		}()
	}
	if s.notifier != nil {
		s.notifier.NotifyDashboard("stream_ended", map[string]interface{}{
			"stream_id": st.ID,
			"ended_at":  st.EndedAt,
		})
	}
	s.broadcastStatus(st.ID, models.StatusEnded)
}
