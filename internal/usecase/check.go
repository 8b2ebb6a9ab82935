package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/image-check/internal/inference"
	"github.com/example/image-check/internal/logging"
	"github.com/example/image-check/internal/session"
	"github.com/example/image-check/internal/uistate"
)

// ErrPreviewNotFound is returned when a preview reference is absent or stale.
var ErrPreviewNotFound = errors.New("preview not found")

// Options tunes an ImageCheckUseCase. Zero values pick the defaults.
type Options struct {
	SessionTTL     time.Duration
	PredictTimeout time.Duration
	StoreTimeout   time.Duration
}

// ImageCheckUseCase drives the page state of every session and the checks
// it sends to the inference backend.
type ImageCheckUseCase struct {
	store          session.Store
	predictor      inference.Predictor
	logger         *zap.Logger
	sessionTTL     time.Duration
	predictTimeout time.Duration
	storeTimeout   time.Duration
	retry          storeRetry

	locks *sessionLocks

	mu       sync.Mutex
	inflight map[string]*checkTask
	// unsaved holds check outcomes the store refused, keyed by session.
	// They are applied on every load until a save goes through.
	unsaved map[string]checkOutcome
	closed  bool
	wg      sync.WaitGroup

	metrics checkMetrics
}

type checkTask struct {
	requestID uint64
	ctx       context.Context
	cancel    context.CancelFunc
}

type checkOutcome struct {
	requestID uint64
	message   string
}

// NewImageCheckUseCase constructs a new use case instance.
func NewImageCheckUseCase(store session.Store, predictor inference.Predictor, logger *zap.Logger, opts Options) *ImageCheckUseCase {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &ImageCheckUseCase{
		store:          store,
		predictor:      predictor,
		logger:         logger.Named("image_check_usecase"),
		sessionTTL:     opts.SessionTTL,
		predictTimeout: opts.PredictTimeout,
		storeTimeout:   opts.StoreTimeout,
		retry:          defaultStoreRetry(),
		locks:          newSessionLocks(),
		inflight:       make(map[string]*checkTask),
		unsaved:        make(map[string]checkOutcome),
	}
}

// State returns the current snapshot of a session.
func (uc *ImageCheckUseCase) State(ctx context.Context, sessionID string) (uistate.View, error) {
	unlock := uc.locks.lock(sessionID)
	defer unlock()

	state, err := uc.load(ctx, sessionID)
	if err != nil {
		return uistate.View{}, err
	}
	return state.View(), nil
}

// SelectFiles applies a picker selection or a drop. Only the first file is used.
func (uc *ImageCheckUseCase) SelectFiles(ctx context.Context, sessionID string, src uistate.Source, files []uistate.File) (uistate.View, error) {
	return uc.update(ctx, sessionID, "select_files", func(s *uistate.State) {
		if s.Accept(src, files) {
			logging.WithOperation(uc.logger, "select_files", sessionID).Debug("file selected",
				zap.String("source", string(src)),
				zap.String("name", s.File.Name),
				zap.Int("bytes", len(s.File.Data)),
			)
		}
	})
}

// Drag applies a drag gesture over the drop target.
func (uc *ImageCheckUseCase) Drag(ctx context.Context, sessionID string, ev uistate.DragEvent) (uistate.View, error) {
	return uc.update(ctx, sessionID, "drag", func(s *uistate.State) {
		s.Apply(ev)
	})
}

// Check starts the check action and returns immediately. The verdict lands
// in the session state once the backend answers; an older in-flight check
// of the same session is cancelled.
func (uc *ImageCheckUseCase) Check(ctx context.Context, sessionID string) (uistate.View, error) {
	var (
		task  *checkTask
		image inference.Image
	)
	view, err := uc.update(ctx, sessionID, "check", func(s *uistate.State) {
		id, ok := s.BeginCheck()
		if !ok {
			return
		}
		image = inference.Image{Filename: s.File.Name, ContentType: s.File.ContentType, Data: s.File.Data}
		// Registered before the pending request is saved, so a load never
		// sees a pending check without its task.
		task = uc.reserve(sessionID, id)
	})
	if err != nil {
		if task != nil {
			uc.release(sessionID, task)
			uc.wg.Done()
		}
		return uistate.View{}, err
	}

	if task == nil {
		uc.metrics.noFile.Add(1)
		return view, nil
	}

	uc.metrics.started.Add(1)
	uc.run(sessionID, task, image)
	return view, nil
}

// Preview returns the selected file when version is the current preview reference.
func (uc *ImageCheckUseCase) Preview(ctx context.Context, sessionID string, version uint64) (*uistate.File, error) {
	state, err := uc.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !state.HasPreview() || state.PreviewVersion != version {
		return nil, ErrPreviewNotFound
	}
	return state.File, nil
}

// Wait blocks until every in-flight check has recorded its outcome.
func (uc *ImageCheckUseCase) Wait() {
	uc.wg.Wait()
}

// Close cancels in-flight checks and waits for them until ctx is done.
// Checks started after Close fail right away.
func (uc *ImageCheckUseCase) Close(ctx context.Context) error {
	uc.mu.Lock()
	uc.closed = true
	for _, task := range uc.inflight {
		task.cancel()
	}
	uc.mu.Unlock()

	done := make(chan struct{})
	go func() {
		uc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserve makes requestID the session's in-flight check and cancels the one
// it replaces. The caller either runs the task or releases it and calls wg.Done.
func (uc *ImageCheckUseCase) reserve(sessionID string, requestID uint64) *checkTask {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if uc.predictTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), uc.predictTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	task := &checkTask{requestID: requestID, ctx: ctx, cancel: cancel}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.closed {
		cancel()
	}
	if prev, ok := uc.inflight[sessionID]; ok {
		prev.cancel()
		logging.WithOperation(uc.logger, "check", sessionID).Debug("cancelled superseded check",
			zap.Uint64("request_id", requestID),
			zap.Uint64("superseded_request_id", prev.requestID),
		)
	}
	uc.inflight[sessionID] = task
	uc.wg.Add(1)
	return task
}

func (uc *ImageCheckUseCase) release(sessionID string, task *checkTask) {
	uc.mu.Lock()
	if uc.inflight[sessionID] == task {
		delete(uc.inflight, sessionID)
	}
	uc.mu.Unlock()
	task.cancel()
}

func (uc *ImageCheckUseCase) run(sessionID string, task *checkTask, image inference.Image) {
	opLogger := logging.WithOperation(uc.logger, "check", sessionID).With(zap.Uint64("request_id", task.requestID))

	go func() {
		defer uc.wg.Done()
		defer uc.release(sessionID, task)

		start := time.Now()
		pred, err := uc.predictor.Predict(task.ctx, image)
		message := inference.Message(pred, err)
		if err != nil {
			opLogger.Warn("prediction failed", zap.Error(err), zap.Duration("latency", time.Since(start)))
		} else {
			opLogger.Info("prediction completed",
				zap.Bool("generated", pred.Generated()),
				zap.Duration("latency", time.Since(start)),
			)
		}

		uc.complete(sessionID, checkOutcome{requestID: task.requestID, message: message}, err)
	}()
}

// complete records the outcome of a check. When the store refuses the write
// the outcome is kept in memory, so loads still end the loading state.
func (uc *ImageCheckUseCase) complete(sessionID string, outcome checkOutcome, predictErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), uc.storeTimeout)
	defer cancel()

	unlock := uc.locks.lock(sessionID)
	defer unlock()

	applied := false
	state, err := uc.load(ctx, sessionID)
	if err == nil {
		applied = state.CompleteCheck(outcome.requestID, outcome.message)
		if applied {
			err = uc.save(ctx, sessionID, state)
		}
	}
	if err != nil {
		logging.WithOperation(uc.logger, "complete_check", sessionID).Error("check outcome kept in memory until the session state can be saved",
			zap.Uint64("request_id", outcome.requestID),
			zap.Error(err),
		)
		uc.mu.Lock()
		uc.unsaved[sessionID] = outcome
		uc.mu.Unlock()
		applied = true
	}

	switch {
	case !applied:
		uc.metrics.superseded.Add(1)
	case predictErr != nil:
		uc.metrics.backendErrors.Add(1)
	case outcome.message == inference.MessageAIGenerated:
		uc.metrics.aiGenerated.Add(1)
	default:
		uc.metrics.real.Add(1)
	}
}

// update runs fn against the stored state of a session under its lock and saves the result.
func (uc *ImageCheckUseCase) update(ctx context.Context, sessionID, action string, fn func(*uistate.State)) (uistate.View, error) {
	unlock := uc.locks.lock(sessionID)
	defer unlock()

	state, err := uc.load(ctx, sessionID)
	if err != nil {
		return uistate.View{}, err
	}

	fn(state)

	if err := uc.save(ctx, sessionID, state); err != nil {
		logging.WithOperation(uc.logger, action, sessionID).Error("session state not saved", zap.Error(err))
		return uistate.View{}, err
	}
	return state.View(), nil
}

// load returns the stored state, or a fresh one for a new session. A pending
// check is settled here when its outcome could not be saved or when no task
// of this process is running it anymore, for example after a restart.
// Callers hold the session lock.
func (uc *ImageCheckUseCase) load(ctx context.Context, sessionID string) (*uistate.State, error) {
	var state *uistate.State
	err := uc.retry.do(ctx, uc.logger, opSessionLoad, sessionID, func() error {
		loaded, err := uc.store.Load(ctx, sessionID)
		if errors.Is(err, session.ErrNotFound) {
			state = uistate.New()
			return nil
		}
		if err != nil {
			return err
		}
		state = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.settle(sessionID, state)
	return state, nil
}

func (uc *ImageCheckUseCase) settle(sessionID string, state *uistate.State) {
	pending := state.PendingRequestID
	if pending == 0 {
		return
	}

	uc.mu.Lock()
	outcome, kept := uc.unsaved[sessionID]
	task, running := uc.inflight[sessionID]
	uc.mu.Unlock()

	switch {
	case kept && outcome.requestID == pending:
		state.CompleteCheck(pending, outcome.message)
	case !running || task.requestID != pending:
		logging.WithOperation(uc.logger, "settle_check", sessionID).Warn("pending check has no running task",
			zap.Uint64("request_id", pending),
		)
		state.CompleteCheck(pending, inference.MessageBackendError)
	}
}

// save writes state and forgets any outcome kept for the session, which the
// state now carries. Callers hold the session lock.
func (uc *ImageCheckUseCase) save(ctx context.Context, sessionID string, state *uistate.State) error {
	err := uc.retry.do(ctx, uc.logger, opSessionSave, sessionID, func() error {
		return uc.store.Save(ctx, sessionID, state, uc.sessionTTL)
	})
	if err != nil {
		return err
	}
	uc.mu.Lock()
	delete(uc.unsaved, sessionID)
	uc.mu.Unlock()
	return nil
}
