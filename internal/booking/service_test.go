package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightsteps/clinic-booking/internal/config"
	redisclient "github.com/brightsteps/clinic-booking/internal/redis"
)

// fixedNow is a Monday; the following Sundays fall on Mar 8, 15, 22 and 29.
var fixedNow = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fakeRepo is an in-memory Repository. enforceUnique mirrors the partial
// unique index on (appointment_date, service_type, queue_number); leaving it
// off reproduces a store without the constraint.
type fakeRepo struct {
	mu            sync.Mutex
	patients      map[uuid.UUID]*Patient
	appointments  []*Appointment
	events        []EventLog
	enforceUnique bool

	maxQueueCalls int
	insertCalls   int
	maxQueueErr   error

	// afterMaxRead runs outside the mutex, letting tests interleave two
	// bookers between the read and the insert.
	afterMaxRead func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{patients: make(map[uuid.UUID]*Patient), enforceUnique: true}
}

func (r *fakeRepo) addPatient(id uuid.UUID) {
	r.patients[id] = &Patient{ID: id, Name: "Test Patient"}
}

func (r *fakeRepo) seedAppointment(serviceType ServiceType, date time.Time, queueNumber int, status Status) {
	r.appointments = append(r.appointments, &Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		ServiceType:     serviceType,
		AppointmentDate: DateOnly(date),
		QueueNumber:     queueNumber,
		Status:          status,
	})
}

func (r *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (r *fakeRepo) MaxQueueNumber(_ context.Context, date time.Time, serviceType ServiceType) (int, error) {
	r.mu.Lock()
	r.maxQueueCalls++
	if r.maxQueueErr != nil {
		r.mu.Unlock()
		return 0, r.maxQueueErr
	}
	max := 0
	for _, a := range r.appointments {
		if a.ServiceType == serviceType && a.AppointmentDate.Equal(DateOnly(date)) && a.Status != StatusCancelled && a.QueueNumber > max {
			max = a.QueueNumber
		}
	}
	hook := r.afterMaxRead
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return max, nil
}

func (r *fakeRepo) CreatePendingAppointment(_ context.Context, patientID uuid.UUID, serviceType ServiceType, date time.Time, queueNumber int, notes string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertCalls++

	if r.enforceUnique {
		for _, a := range r.appointments {
			if a.ServiceType == serviceType && a.AppointmentDate.Equal(DateOnly(date)) && a.QueueNumber == queueNumber && a.Status != StatusCancelled {
				return nil, ErrQueueNumberTaken
			}
		}
	}

	appt := &Appointment{
		ID:              uuid.New(),
		PatientID:       patientID,
		ServiceType:     serviceType,
		AppointmentDate: DateOnly(date),
		QueueNumber:     queueNumber,
		Status:          StatusPending,
		PatientNotes:    notes,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	r.appointments = append(r.appointments, appt)
	cp := *appt
	return &cp, nil
}

func (r *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *fakeRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.ID == id && a.Status == from {
			a.Status = to
			a.UpdatedAt = time.Now()
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *fakeRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListScheduleForDay(_ context.Context, date time.Time, serviceType ServiceType) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.ServiceType == serviceType && a.AppointmentDate.Equal(DateOnly(date)) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindLapsedPending(_ context.Context, before time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusPending && a.AppointmentDate.Before(DateOnly(before)) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// mutexLocker serializes critical sections per key, standing in for the
// Redis locker.
type mutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *mutexLocker) WithQueueLock(ctx context.Context, date time.Time, serviceType string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	key := redisclient.LockKey(date, serviceType)
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// passLocker performs no locking at all, reproducing the original unguarded
// read-then-write.
type passLocker struct{}

func (passLocker) WithQueueLock(ctx context.Context, _ time.Time, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// busyLocker always reports contention.
type busyLocker struct{}

func (busyLocker) WithQueueLock(context.Context, time.Time, string, func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func testConfig() config.Config {
	return config.Config{
		MinLeadDays:       1,
		BookingWindowDays: 30,
		LockTTL:           time.Second,
	}
}

func newTestService(repo Repository, locker redisclient.Locker) *Service {
	svc := NewService(repo, locker, testConfig(), zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestBookAssignsSequentialQueueNumbers(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &mutexLocker{})
	date := day(2026, time.March, 4)

	for i := 1; i <= 5; i++ {
		patientID := uuid.New()
		repo.addPatient(patientID)

		appt, err := svc.Book(context.Background(), ServicePlayTherapy, date, patientID, "")
		require.NoError(t, err)
		assert.Equal(t, i, appt.QueueNumber)
		assert.Equal(t, StatusPending, appt.Status)
	}
}

func TestFirstBookingOnEmptyDay(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &mutexLocker{})
	date := day(2026, time.March, 4)

	avail, err := svc.ComputeNextSlot(context.Background(), ServicePlayTherapy, date)
	require.NoError(t, err)
	assert.Equal(t, 1, avail.NextQueueNumber)
	assert.Equal(t, 14, avail.SlotsRemaining)

	patientID := uuid.New()
	repo.addPatient(patientID)
	appt, err := svc.Book(context.Background(), ServicePlayTherapy, date, patientID, "first visit")
	require.NoError(t, err)
	assert.Equal(t, 1, appt.QueueNumber)
}

func TestBookCapacityExceeded(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &mutexLocker{})
	date := day(2026, time.March, 4)

	for i := 1; i <= ServicePlayTherapy.MaxSlots(); i++ {
		patientID := uuid.New()
		repo.addPatient(patientID)
		_, err := svc.Book(context.Background(), ServicePlayTherapy, date, patientID, "")
		require.NoError(t, err)
	}

	patientID := uuid.New()
	repo.addPatient(patientID)
	_, err := svc.Book(context.Background(), ServicePlayTherapy, date, patientID, "")
	require.ErrorIs(t, err, ErrCapacityExceeded)

	// Capacity rejection must not write a row
	assert.Len(t, repo.appointments, ServicePlayTherapy.MaxSlots())
}

func TestComputeNextSlotIdempotent(t *testing.T) {
	repo := newFakeRepo()
	repo.seedAppointment(ServicePsychologicalTest, day(2026, time.March, 4), 1, StatusApproved)
	svc := newTestService(repo, &mutexLocker{})

	first, err := svc.ComputeNextSlot(context.Background(), ServicePsychologicalTest, day(2026, time.March, 4))
	require.NoError(t, err)
	second, err := svc.ComputeNextSlot(context.Background(), ServicePsychologicalTest, day(2026, time.March, 4))
	require.NoError(t, err)

	assert.Equal(t, first.NextQueueNumber, second.NextQueueNumber)
	assert.Equal(t, first.SlotsRemaining, second.SlotsRemaining)
}

func TestComputeNextSlotWithExistingQueue(t *testing.T) {
	repo := newFakeRepo()
	date := day(2026, time.March, 4)
	for i := 1; i <= 3; i++ {
		repo.seedAppointment(ServicePsychologicalTest, date, i, StatusApproved)
	}
	svc := newTestService(repo, &mutexLocker{})

	avail, err := svc.ComputeNextSlot(context.Background(), ServicePsychologicalTest, date)
	require.NoError(t, err)
	assert.Equal(t, 4, avail.NextQueueNumber)
	assert.Equal(t, 46, avail.SlotsRemaining)
}

func TestCancelledNumbersAreNotReused(t *testing.T) {
	repo := newFakeRepo()
	date := day(2026, time.March, 4)
	for i := 1; i <= 5; i++ {
		status := StatusApproved
		if i == 3 {
			status = StatusCancelled
		}
		repo.seedAppointment(ServicePlayTherapy, date, i, status)
	}
	svc := newTestService(repo, &mutexLocker{})

	avail, err := svc.ComputeNextSlot(context.Background(), ServicePlayTherapy, date)
	require.NoError(t, err)
	assert.Equal(t, 6, avail.NextQueueNumber)
}

func TestSundayRejectedBeforeAnyStoreCall(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &mutexLocker{})

	for _, sunday := range []time.Time{
		day(2026, time.March, 8),
		day(2026, time.March, 15),
		day(2026, time.March, 22),
	} {
		_, err := svc.ComputeNextSlot(context.Background(), ServicePlayTherapy, sunday)
		require.ErrorIs(t, err, ErrInvalidDate)

		_, err = svc.Book(context.Background(), ServicePlayTherapy, sunday, uuid.New(), "")
		require.ErrorIs(t, err, ErrInvalidDate)
	}

	assert.Zero(t, repo.maxQueueCalls)
	assert.Zero(t, repo.insertCalls)
}

func TestBookingWindowBounds(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &mutexLocker{})

	cases := []struct {
		name    string
		date    time.Time
		wantErr bool
	}{
		{"today", day(2026, time.March, 2), true},
		{"yesterday", day(2026, time.March, 1), true},
		{"tomorrow", day(2026, time.March, 3), false},
		{"window edge", day(2026, time.April, 1), false},
		{"past window", day(2026, time.April, 2), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.ValidateDate(tc.date)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidDate)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestUnknownServiceTypeRejected(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &mutexLocker{})

	_, err := svc.ComputeNextSlot(context.Background(), ServiceType("reiki"), day(2026, time.March, 4))
	require.Error(t, err)

	_, err = svc.Book(context.Background(), ServiceType("reiki"), day(2026, time.March, 4), uuid.New(), "")
	require.Error(t, err)
	assert.Zero(t, repo.insertCalls)
}

func TestBookTrimsPatientNotes(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &mutexLocker{})
	patientID := uuid.New()
	repo.addPatient(patientID)

	appt, err := svc.Book(context.Background(), ServiceAcademicTutor, day(2026, time.March, 4), patientID, "  needs a quiet room  ")
	require.NoError(t, err)
	assert.Equal(t, "needs a quiet room", appt.PatientNotes)
}

func TestBookUnknownPatient(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &mutexLocker{})

	_, err := svc.Book(context.Background(), ServicePlayTherapy, day(2026, time.March, 4), uuid.New(), "")
	require.ErrorIs(t, err, ErrPatientNotFound)
	assert.Zero(t, repo.insertCalls)
}

func TestBookQueueBusy(t *testing.T) {
	repo := newFakeRepo()
	patientID := uuid.New()
	repo.addPatient(patientID)
	svc := newTestService(repo, busyLocker{})

	_, err := svc.Book(context.Background(), ServicePlayTherapy, day(2026, time.March, 4), patientID, "")
	require.ErrorIs(t, err, ErrQueueBusy)
	assert.Zero(t, repo.insertCalls)
}

func TestStoreFaultPropagates(t *testing.T) {
	repo := newFakeRepo()
	repo.maxQueueErr = errors.New("connection refused")
	patientID := uuid.New()
	repo.addPatient(patientID)
	svc := newTestService(repo, &mutexLocker{})

	// A store fault must never read as an empty queue
	_, err := svc.ComputeNextSlot(context.Background(), ServicePlayTherapy, day(2026, time.March, 4))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCapacityExceeded)

	_, err = svc.Book(context.Background(), ServicePlayTherapy, day(2026, time.March, 4), patientID, "")
	require.Error(t, err)
	assert.Zero(t, repo.insertCalls)
}

// TestUnguardedRaceDuplicatesQueueNumbers documents the failure mode of the
// original read-max-then-insert with no lock and no constraint: two
// concurrent bookers both observe max=0 and both write queue number 1.
func TestUnguardedRaceDuplicatesQueueNumbers(t *testing.T) {
	repo := newFakeRepo()
	repo.enforceUnique = false
	svc := newTestService(repo, passLocker{})
	date := day(2026, time.March, 4)

	var barrier sync.WaitGroup
	barrier.Add(2)
	repo.afterMaxRead = func() {
		// Hold both bookers here until each has read the maximum
		barrier.Done()
		barrier.Wait()
	}

	type result struct {
		appt *Appointment
		err  error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		patientID := uuid.New()
		repo.addPatient(patientID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			appt, err := svc.Book(context.Background(), ServicePlayTherapy, date, patientID, "")
			results <- result{appt, err}
		}()
	}
	wg.Wait()
	close(results)

	var numbers []int
	for res := range results {
		require.NoError(t, res.err)
		numbers = append(numbers, res.appt.QueueNumber)
	}
	require.Len(t, numbers, 2)
	assert.Equal(t, []int{1, 1}, numbers, "both bookers get the same number without lock or constraint")
}

// TestUniqueConstraintFailsSecondWriter is the corrected behavior: with the
// partial unique index in place, the slower writer fails instead of
// duplicating a queue number.
func TestUniqueConstraintFailsSecondWriter(t *testing.T) {
	repo := newFakeRepo()
	repo.enforceUnique = true
	svc := newTestService(repo, passLocker{})
	date := day(2026, time.March, 4)

	var barrier sync.WaitGroup
	barrier.Add(2)
	repo.afterMaxRead = func() {
		barrier.Done()
		barrier.Wait()
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		patientID := uuid.New()
		repo.addPatient(patientID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Book(context.Background(), ServicePlayTherapy, date, patientID, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var failures int
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrQueueNumberTaken)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one writer loses the race")
	assert.Len(t, repo.appointments, 1)
}

func TestStatusTransitions(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &mutexLocker{})
	patientID := uuid.New()
	repo.addPatient(patientID)
	date := day(2026, time.March, 4)

	appt, err := svc.Book(context.Background(), ServiceMentalHealthConsultation, date, patientID, "")
	require.NoError(t, err)

	approved, err := svc.ApproveBooking(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)

	// approved -> rejected is not a legal move
	_, err = svc.RejectBooking(context.Background(), appt.ID)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)

	completed, err := svc.CompleteBooking(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)

	// completed is terminal
	_, err = svc.CancelBooking(context.Background(), appt.ID)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestCancelBurnsQueueNumber(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &mutexLocker{})
	date := day(2026, time.March, 4)

	var first *Appointment
	for i := 1; i <= 3; i++ {
		patientID := uuid.New()
		repo.addPatient(patientID)
		appt, err := svc.Book(context.Background(), ServiceSpedEvaluation, date, patientID, "")
		require.NoError(t, err)
		if i == 1 {
			first = appt
		}
	}

	_, err := svc.ApproveBooking(context.Background(), first.ID)
	require.NoError(t, err)
	_, err = svc.CancelBooking(context.Background(), first.ID)
	require.NoError(t, err)

	// Number 1 is cancelled but the next booking still gets 4
	avail, err := svc.ComputeNextSlot(context.Background(), ServiceSpedEvaluation, date)
	require.NoError(t, err)
	assert.Equal(t, 4, avail.NextQueueNumber)
}

func TestRejectLapsedBookings(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &mutexLocker{})

	repo.seedAppointment(ServicePlayTherapy, day(2026, time.February, 27), 1, StatusPending)
	repo.seedAppointment(ServicePlayTherapy, day(2026, time.February, 27), 2, StatusApproved)
	repo.seedAppointment(ServicePlayTherapy, day(2026, time.March, 4), 1, StatusPending)

	n, err := svc.RejectLapsedBookings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Only the stale pending row was rejected
	var statuses []Status
	for _, a := range repo.appointments {
		statuses = append(statuses, a.Status)
	}
	assert.Equal(t, []Status{StatusRejected, StatusApproved, StatusPending}, statuses)
}

func TestDaySchedule(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &mutexLocker{})
	date := day(2026, time.March, 4)

	repo.seedAppointment(ServicePlayTherapy, date, 1, StatusApproved)
	repo.seedAppointment(ServicePlayTherapy, date, 2, StatusPending)
	repo.seedAppointment(ServiceAcademicTutor, date, 1, StatusPending)

	roster, err := svc.DaySchedule(context.Background(), ServicePlayTherapy, date)
	require.NoError(t, err)
	assert.Len(t, roster, 2)
}
