package correlation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
	"whatslens/internal/privacy"
)

// CorrelationStore is the persistence surface the engine needs.
type CorrelationStore interface {
	GetActiveCorrelationByPhone(ctx context.Context, waPhone string) (*models.UserIdentityCorrelation, error)
	SaveCorrelation(ctx context.Context, corr *models.UserIdentityCorrelation, supersededID string) error
	GetCorrelation(ctx context.Context, id string) (*models.UserIdentityCorrelation, error)
	ListCorrelations(ctx context.Context, filter models.CorrelationFilter) ([]models.UserIdentityCorrelation, int, error)
	DeactivateCorrelation(ctx context.Context, id string) error
	GetCorrelationStats(ctx context.Context) (*models.CorrelationStats, error)
}

type PhoneMatching interface {
	Match(ctx context.Context, tenant models.TenantContext, phone string) (models.Evidence, error)
}

type EmailMatching interface {
	ExtractEmails(text string) []string
	Match(ctx context.Context, tenant models.TenantContext, email string) (models.Evidence, error)
}

type SessionMatching interface {
	Match(ctx context.Context, tenant models.TenantContext, messageAt time.Time, userAgent string) ([]models.Evidence, error)
}

type BehavioralMatching interface {
	Match(ctx context.Context, tenant models.TenantContext, phone string) (models.Evidence, error)
}

// ReviewEnqueuer pushes low-confidence correlations onto the manual review
// queue. Optional; wired after construction to break the engine/verifier
// dependency cycle.
type ReviewEnqueuer interface {
	QueueForVerification(ctx context.Context, tenant models.TenantContext, correlationID, reason string, priority int) error
}

// JourneyBuilder materializes a cross-channel journey once an identity link
// exists. Optional.
type JourneyBuilder interface {
	BuildJourney(ctx context.Context, tenant models.TenantContext, waPhone, umamiUserID string, dayRange int) (*models.UserJourney, error)
}

// correlateTimeout bounds one fire-and-forget correlation run.
const correlateTimeout = 30 * time.Second

// evidencePriority orders methods for picking the identity a correlation
// points at when several matchers agree on different sessions.
var evidencePriority = []models.CorrelationMethod{
	models.MethodPhone,
	models.MethodEmail,
	models.MethodSession,
	models.MethodMLModel,
	models.MethodUserAgent,
}

// Engine runs the matchers over an inbound message's signals, scores the
// combined evidence, and persists the winning link. It satisfies the message
// handler's Correlator interface.
type Engine struct {
	store      CorrelationStore
	phones     PhoneMatching
	emails     EmailMatching
	sessions   SessionMatching
	behavioral BehavioralMatching
	scorer     *Scorer
	verifier   ReviewEnqueuer
	journeys   JourneyBuilder
	opts       models.CorrelationOptions
	logger     *logrus.Logger
}

func NewEngine(store CorrelationStore, phones PhoneMatching, emails EmailMatching,
	sessions SessionMatching, behavioral BehavioralMatching,
	opts models.CorrelationOptions, logger *logrus.Logger) *Engine {
	if opts.MinConfidenceThreshold <= 0 {
		opts.MinConfidenceThreshold = constants.DefaultMinConfidenceThreshold
	}
	if opts.AutoVerifyThreshold <= 0 {
		opts.AutoVerifyThreshold = constants.DefaultAutoVerifyThreshold
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = constants.DefaultCorrelationBatchSize
	}
	return &Engine{
		store:      store,
		phones:     phones,
		emails:     emails,
		sessions:   sessions,
		behavioral: behavioral,
		scorer:     NewScorer(),
		opts:       opts,
		logger:     logger,
	}
}

// SetVerifier wires the manual review queue. Optional; without it
// mid-confidence links are saved unreviewed.
func (e *Engine) SetVerifier(v ReviewEnqueuer) {
	e.verifier = v
}

// SetJourneyMapper wires journey materialization on new links. Optional.
func (e *Engine) SetJourneyMapper(j JourneyBuilder) {
	e.journeys = j
}

// CorrelateMessage runs correlation for one stored inbound message in the
// background. It never blocks message handling and never reports errors to
// the caller; failures are logged and the message stays uncorrelated until
// the contact writes again.
func (e *Engine) CorrelateMessage(tenant models.TenantContext, msg *models.Message) {
	req := models.CorrelationRequest{
		WAPhone:          msg.FromPhone,
		MessageTimestamp: &msg.Timestamp,
	}
	if msg.Body != nil {
		req.MessageContent = *msg.Body
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), correlateTimeout)
		defer cancel()
		ctx = models.WithTenant(ctx, tenant)

		if _, err := e.CorrelateIdentity(ctx, req); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"team_id": tenant.TeamID,
				"phone":   privacy.MaskPhoneNumber(msg.FromPhone),
			}).Warn("Background correlation failed")
		}
	}()
}

// CorrelateIdentity runs every applicable matcher, scores the evidence, and
// persists a correlation when the score clears the floor. An existing active
// link for the phone is superseded, not duplicated.
func (e *Engine) CorrelateIdentity(ctx context.Context, req models.CorrelationRequest) (*models.CorrelationResult, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return nil, apperrors.NewUnauthorizedError("no tenant in context")
	}
	if req.WAPhone == "" {
		return nil, apperrors.NewValidationError("waPhone", "phone is required")
	}

	existing, err := e.store.GetActiveCorrelationByPhone(ctx, req.WAPhone)
	if err != nil {
		return nil, apperrors.NewStorageError("get correlation", err)
	}

	evidence := e.gatherEvidence(ctx, tenant, req)
	result := e.scorer.Score(evidence)

	log := e.logger.WithFields(logrus.Fields{
		"team_id": tenant.TeamID,
		"phone":   privacy.MaskPhoneNumber(req.WAPhone),
		"score":   result.Score,
		"method":  string(result.PrimaryMethod),
	})

	if result.Score < e.opts.MinConfidenceThreshold {
		log.Debug("Correlation below confidence floor, discarded")
		return &models.CorrelationResult{Score: result.Score}, nil
	}

	userID, sessionID := identityFromEvidence(result.Evidence)
	corr := &models.UserIdentityCorrelation{
		TeamID:          tenant.TeamID,
		WAPhone:         req.WAPhone,
		ConfidenceScore: result.Score,
		Method:          result.PrimaryMethod,
		Evidence:        result.Evidence,
		Verified:        result.Score >= e.opts.AutoVerifyThreshold,
		UserConsent:     true,
		IsActive:        true,
	}
	if req.WAContactName != "" {
		name := req.WAContactName
		corr.WAContactName = &name
	}
	if userID != "" {
		corr.UmamiUserID = &userID
	}
	if sessionID != "" {
		corr.UmamiSessionID = &sessionID
	}

	var supersededID string
	if existing != nil {
		supersededID = existing.ID
	}
	if err := e.store.SaveCorrelation(ctx, corr, supersededID); err != nil {
		return nil, apperrors.NewStorageError("save correlation", err)
	}
	log.WithField("correlation_id", corr.ID).Info("Correlation saved")

	queued := false
	if e.verifier != nil && existing == nil && e.scorer.NeedsManualVerification(result.Score) {
		reason := fmt.Sprintf("confidence %.2f", result.Score)
		if qErr := e.verifier.QueueForVerification(ctx, tenant, corr.ID, reason, reviewPriority(result.Score)); qErr != nil {
			log.WithError(qErr).Warn("Failed to queue correlation for review")
		} else {
			queued = true
		}
	}

	if e.opts.EnableJourneyMapping && e.journeys != nil && userID != "" {
		if _, jErr := e.journeys.BuildJourney(ctx, tenant, req.WAPhone, userID, constants.DefaultJourneyDayRange); jErr != nil {
			log.WithError(jErr).Warn("Failed to build journey for new correlation")
		}
	}

	return &models.CorrelationResult{
		Created:         true,
		CorrelationID:   corr.ID,
		Score:           result.Score,
		Verified:        corr.Verified,
		QueuedForReview: queued,
	}, nil
}

// gatherEvidence fans out to the matchers. A failing matcher contributes an
// unmatched entry instead of aborting the run; identity correlation is best
// effort by nature.
func (e *Engine) gatherEvidence(ctx context.Context, tenant models.TenantContext, req models.CorrelationRequest) []models.Evidence {
	var evidence []models.Evidence

	phoneEv, err := e.phones.Match(ctx, tenant, req.WAPhone)
	if err != nil {
		e.logger.WithError(err).Debug("Phone matching failed")
	}
	evidence = append(evidence, phoneEv)

	if req.MessageContent != "" {
		emails := e.emails.ExtractEmails(req.MessageContent)
		if len(emails) > constants.MaxEmailsPerMessage {
			emails = emails[:constants.MaxEmailsPerMessage]
		}
		for _, email := range emails {
			emailEv, matchErr := e.emails.Match(ctx, tenant, email)
			if matchErr != nil {
				e.logger.WithError(matchErr).Debug("Email matching failed")
			}
			evidence = append(evidence, emailEv)
		}
	}

	if req.MessageTimestamp != nil {
		sessionEvs, matchErr := e.sessions.Match(ctx, tenant, *req.MessageTimestamp, req.UserAgent)
		if matchErr != nil {
			e.logger.WithError(matchErr).Debug("Session matching failed")
		}
		evidence = append(evidence, sessionEvs...)
	}

	if e.opts.EnableBehavioral && e.behavioral != nil {
		behavioralEv, matchErr := e.behavioral.Match(ctx, tenant, req.WAPhone)
		if matchErr != nil {
			e.logger.WithError(matchErr).Debug("Behavioral matching failed")
		}
		evidence = append(evidence, behavioralEv)
	}

	return evidence
}

// BatchOutcome pairs one batch request with its result or error.
type BatchOutcome struct {
	Request models.CorrelationRequest `json:"request"`
	Result  *models.CorrelationResult `json:"result,omitempty"`
	Err     error                     `json:"-"`
}

// CorrelateBatch correlates many requests with bounded parallelism. Each
// request settles independently; one failure never aborts the batch.
func (e *Engine) CorrelateBatch(ctx context.Context, reqs []models.CorrelationRequest) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(reqs))
	batchSize := e.opts.BatchSize

	for start := 0; start < len(reqs); start += batchSize {
		end := start + batchSize
		if end > len(reqs) {
			end = len(reqs)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				result, err := e.CorrelateIdentity(ctx, reqs[idx])
				outcomes[idx] = BatchOutcome{Request: reqs[idx], Result: result, Err: err}
			}(i)
		}
		wg.Wait()
	}
	return outcomes
}

func (e *Engine) ListCorrelations(ctx context.Context, filter models.CorrelationFilter) ([]models.UserIdentityCorrelation, int, error) {
	correlations, total, err := e.store.ListCorrelations(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.NewStorageError("list correlations", err)
	}
	return correlations, total, nil
}

func (e *Engine) GetCorrelation(ctx context.Context, id string) (*models.UserIdentityCorrelation, error) {
	corr, err := e.store.GetCorrelation(ctx, id)
	if err != nil {
		return nil, apperrors.NewStorageError("get correlation", err)
	}
	if corr == nil {
		return nil, apperrors.NewNotFoundError("correlation", id)
	}
	return corr, nil
}

// DeleteCorrelation deactivates a link. The row survives for audit; only
// is_active flips.
func (e *Engine) DeleteCorrelation(ctx context.Context, id string) error {
	corr, err := e.store.GetCorrelation(ctx, id)
	if err != nil {
		return apperrors.NewStorageError("get correlation", err)
	}
	if corr == nil {
		return apperrors.NewNotFoundError("correlation", id)
	}
	if err := e.store.DeactivateCorrelation(ctx, id); err != nil {
		return apperrors.NewStorageError("deactivate correlation", err)
	}
	return nil
}

func (e *Engine) GetStats(ctx context.Context) (*models.CorrelationStats, error) {
	stats, err := e.store.GetCorrelationStats(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("get correlation stats", err)
	}
	return stats, nil
}

// identityFromEvidence picks the web identity the correlation should point
// at, taking the strongest method's verdict first.
func identityFromEvidence(evidence []models.Evidence) (userID, sessionID string) {
	for _, method := range evidencePriority {
		for _, ev := range evidence {
			if ev.Method != method || !ev.Matched || ev.Data == nil {
				continue
			}
			if userID == "" {
				if v, ok := ev.Data["umamiUserId"].(string); ok && v != "" {
					userID = v
				}
			}
			if sessionID == "" {
				if v, ok := ev.Data["umamiSessionId"].(string); ok && v != "" {
					sessionID = v
				}
			}
			if userID != "" && sessionID != "" {
				return userID, sessionID
			}
		}
	}
	return userID, sessionID
}

// reviewPriority maps a confidence score onto the queue's 1..10 urgency
// scale. Near-misses on auto-verify review first.
func reviewPriority(score float64) int {
	switch {
	case score >= 0.8:
		return 3
	case score >= 0.7:
		return 5
	case score >= 0.6:
		return 7
	case score >= 0.5:
		return 8
	default:
		return 10
	}
}
