package service

import (
	"context"
	"fmt"
	"sync"

	"pictora/internal/domain"
	"pictora/internal/infra"
	"pictora/internal/providers/inference"
	"pictora/internal/providers/razorpay"
)

// In-memory doubles shared by the service tests.

type fakeCredits struct {
	mu       sync.Mutex
	balances map[string]int64
	settled  map[string]bool
	debitErr error
	// debitErrApplies mimics an ambiguous failure: the attempt commits
	// before the error is reported.
	debitErrApplies bool
	debitCalls      int
	debits          []int64
	grants          []int64
}

func newFakeCredits(balances map[string]int64) *fakeCredits {
	if balances == nil {
		balances = map[string]int64{}
	}
	return &fakeCredits{balances: balances, settled: map[string]bool{}}
}

func (f *fakeCredits) GetBalance(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID], nil
}

func (f *fakeCredits) TryDebit(_ context.Context, userID string, amount int64, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debitCalls++
	if f.settled[ref] {
		return nil
	}
	apply := func() error {
		if f.balances[userID] < amount {
			return domain.ErrInsufficientCredit
		}
		f.balances[userID] -= amount
		f.debits = append(f.debits, amount)
		f.settled[ref] = true
		return nil
	}
	if f.debitErr != nil {
		if f.debitErrApplies {
			if err := apply(); err != nil {
				return err
			}
		}
		return f.debitErr
	}
	return apply()
}

func (f *fakeCredits) Credit(_ context.Context, userID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] += amount
	f.grants = append(f.grants, amount)
	return nil
}

type fakeJobs struct {
	mu        sync.Mutex
	byID      map[string]*domain.Job
	byRequest map[string]*domain.Job
	created   []*domain.Job
	createErr error
}

func newFakeJobs(seed ...*domain.Job) *fakeJobs {
	f := &fakeJobs{byID: map[string]*domain.Job{}, byRequest: map[string]*domain.Job{}}
	for _, j := range seed {
		f.byID[j.ID] = j
		if j.ProviderRequestID != "" {
			f.byRequest[j.ProviderRequestID] = j
		}
	}
	return f
}

func (f *fakeJobs) Create(_ context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.byID[job.ID] = job
	f.byRequest[job.ProviderRequestID] = job
	f.created = append(f.created, job)
	return nil
}

func (f *fakeJobs) CreateBatch(ctx context.Context, jobs []*domain.Job) error {
	for _, j := range jobs {
		if err := f.Create(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeJobs) GetByID(_ context.Context, id string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (f *fakeJobs) GetForUser(ctx context.Context, id, userID string) (*domain.Job, error) {
	job, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobs) GetByProviderRequestID(_ context.Context, requestID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.byRequest[requestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (f *fakeJobs) ListByKind(_ context.Context, userID string, kind domain.JobKind, limit, offset int) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Job
	for _, j := range f.byID {
		if j.UserID == userID && j.Kind == kind && j.Status != domain.JobStatusFailed {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeJobs) ListByIDs(_ context.Context, userID string, ids []string) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Job
	for _, id := range ids {
		if j, ok := f.byID[id]; ok && j.UserID == userID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeJobs) Claim(_ context.Context, providerRequestID, outputRef string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.byRequest[providerRequestID]
	if !ok {
		return false, nil
	}
	if job.Status.Terminal() || job.OutputRef != "" {
		return false, nil
	}
	job.Status = domain.JobStatusProcessing
	job.OutputRef = outputRef
	return true, nil
}

func (f *fakeJobs) Transition(_ context.Context, providerRequestID string, from []domain.JobStatus, to domain.JobStatus, outputRef, thumbnail *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.byRequest[providerRequestID]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range from {
		if job.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	job.Status = to
	if outputRef != nil {
		job.OutputRef = *outputRef
	}
	if thumbnail != nil {
		job.Thumbnail = *thumbnail
	}
	return true, nil
}

type fakePacks struct {
	packs   []domain.Pack
	prompts map[string][]domain.PackPrompt
}

func (f *fakePacks) List(_ context.Context) ([]domain.Pack, error) {
	return f.packs, nil
}

func (f *fakePacks) ListPrompts(_ context.Context, packID string) ([]domain.PackPrompt, error) {
	return f.prompts[packID], nil
}

// fakeProvider doubles as submitter and preview generator.
type fakeProvider struct {
	mu          sync.Mutex
	submits     int
	failAt      int // fail the Nth submission, 0 = never
	previewURL  string
	previewErr  error
	previewRuns int
}

func (f *fakeProvider) submit(prefix string) (*inference.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.failAt > 0 && f.submits == f.failAt {
		return nil, fmt.Errorf("provider rejected request: %w", domain.ErrProviderFailure)
	}
	return &inference.SubmitResult{RequestID: fmt.Sprintf("%s-%d", prefix, f.submits)}, nil
}

func (f *fakeProvider) TrainModel(_ context.Context, zipURL, triggerWord string) (*inference.SubmitResult, error) {
	return f.submit("train")
}

func (f *fakeProvider) GenerateImage(_ context.Context, prompt, weightsURL string) (*inference.SubmitResult, error) {
	return f.submit("img")
}

func (f *fakeProvider) GenerateImageSync(_ context.Context, weightsURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previewRuns++
	if f.previewErr != nil {
		return "", f.previewErr
	}
	return f.previewURL, nil
}

type fakePayments struct {
	mu           sync.Mutex
	transactions []*domain.Transaction
	failed       []string
	grants       []domain.PlanGrant
	settled      map[string]bool
	credits      *fakeCredits
}

func newFakePayments(credits *fakeCredits) *fakePayments {
	return &fakePayments{settled: map[string]bool{}, credits: credits}
}

func (f *fakePayments) CreateTransaction(_ context.Context, txn *domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions = append(f.transactions, txn)
	return nil
}

func (f *fakePayments) MarkTransactionFailed(_ context.Context, orderID, userID, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, orderID)
	return nil
}

func (f *fakePayments) CompletePayment(ctx context.Context, grant domain.PlanGrant) (bool, error) {
	f.mu.Lock()
	pending := false
	for _, txn := range f.transactions {
		if txn.OrderID == grant.OrderID && txn.Status == domain.TransactionPending {
			txn.Status = domain.TransactionSuccess
			txn.PaymentID = grant.PaymentID
			pending = true
			break
		}
	}
	if !pending {
		if f.settled[grant.OrderID] {
			f.mu.Unlock()
			return false, nil
		}
		f.mu.Unlock()
		return false, domain.ErrNoPendingTransaction
	}
	f.settled[grant.OrderID] = true
	f.grants = append(f.grants, grant)
	f.mu.Unlock()
	return true, f.credits.Credit(ctx, grant.UserID, grant.Credits)
}

func (f *fakePayments) ListTransactions(_ context.Context, userID string) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transaction
	for _, txn := range f.transactions {
		if txn.UserID == userID {
			out = append(out, *txn)
		}
	}
	return out, nil
}

func (f *fakePayments) LatestSubscription(_ context.Context, userID string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.grants) - 1; i >= 0; i-- {
		if f.grants[i].UserID == userID {
			return &domain.Subscription{UserID: userID, Plan: f.grants[i].Plan}, nil
		}
	}
	return nil, domain.ErrNotFound
}

// fakeOrders wraps the real signature scheme so verification paths exercise
// the production HMAC code.
type fakeOrders struct {
	secret string
	orders int
}

func (f *fakeOrders) CreateOrder(_ context.Context, amount int64, currency, receipt string, notes map[string]string) (*razorpay.Order, error) {
	f.orders++
	return &razorpay.Order{
		ID:       fmt.Sprintf("order_%d", f.orders),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (f *fakeOrders) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return razorpay.VerifySignature(f.secret, orderID, paymentID, signature)
}

func (f *fakeOrders) KeyID() string { return "rzp_test_key" }

func testLogger() infra.Logger {
	return infra.NewLogger("test")
}
