// Package timer implements the abstract one-shot wake-capable Timer
// facility of spec §4.5, plus the request-code derivation and collision
// probing the Reconciler uses (spec §4.6 "Request-code generation").
package timer

import (
	"fmt"
	"hash/fnv"
	"math/bits"
	"sync"
	"time"

	"alarmsched/internal/logging"
	"alarmsched/internal/schederr"
)

var log = logging.New("timer")

// Payload is delivered to the FirePath callback when a slot fires.
type Payload struct {
	AlarmID    string
	EventTitle string
	EventStart time.Time
	RuleID     string
}

// Callback is invoked, off the arming goroutine, when a slot fires.
type Callback func(requestCode int32, payload Payload)

// Timer is the contract of spec §4.5/§6.
type Timer interface {
	Arm(requestCode int32, fireAtUtc time.Time, payload Payload) error
	Cancel(requestCode int32)
	IsArmed(requestCode int32) bool
	CanScheduleExact() bool
}

// InProcessTimer is a concrete, wake-capable-within-process Timer
// implementation: each armed slot owns a real time.Timer, the same way
// the teacher's AlertManager run loop drives a single time.Timer off
// am.scheduler.ScheduleNextCheck(). It does not itself survive process
// death; durable wake-ups are a platform concern the spec treats as an
// external collaborator.
type InProcessTimer struct {
	mutex    sync.Mutex
	slots    map[int32]*slot
	callback Callback
	exact    bool
}

type slot struct {
	timer   *time.Timer
	payload Payload
}

// NewInProcessTimer builds a Timer that invokes cb when a slot fires.
// exact mirrors canScheduleExact(): when false, Arm always fails with
// ErrPermissionDenied, simulating a host that forbids precise scheduling.
func NewInProcessTimer(cb Callback, exact bool) *InProcessTimer {
	return &InProcessTimer{
		slots:    make(map[int32]*slot),
		callback: cb,
		exact:    exact,
	}
}

func (t *InProcessTimer) CanScheduleExact() bool { return t.exact }

func (t *InProcessTimer) Arm(requestCode int32, fireAtUtc time.Time, payload Payload) error {
	if !t.exact {
		return schederr.ErrPermissionDenied
	}

	now := time.Now().UTC()
	if !fireAtUtc.After(now) {
		return schederr.ErrPastTime
	}

	t.mutex.Lock()
	if existing, ok := t.slots[requestCode]; ok {
		existing.timer.Stop()
	}

	d := fireAtUtc.Sub(now)
	s := &slot{payload: payload}
	s.timer = time.AfterFunc(d, func() { t.fire(requestCode) })
	t.slots[requestCode] = s
	t.mutex.Unlock()
	return nil
}

func (t *InProcessTimer) fire(requestCode int32) {
	t.mutex.Lock()
	s, ok := t.slots[requestCode]
	if ok {
		delete(t.slots, requestCode)
	}
	t.mutex.Unlock()

	if !ok {
		return
	}
	if t.callback == nil {
		log.Warn("slot %d fired with no callback registered", requestCode)
		return
	}
	t.callback(requestCode, s.payload)
}

func (t *InProcessTimer) Cancel(requestCode int32) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if s, ok := t.slots[requestCode]; ok {
		s.timer.Stop()
		delete(t.slots, requestCode)
	}
}

func (t *InProcessTimer) IsArmed(requestCode int32) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	_, ok := t.slots[requestCode]
	return ok
}

// ArmWithRetry arms requestCode, retrying up to 2 additional times with
// exponential backoff on a transient failure, per spec §4.5.
func ArmWithRetry(t Timer, requestCode int32, fireAtUtc time.Time, payload Payload) error {
	const maxRetries = 2
	backoff := 100 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := t.Arm(requestCode, fireAtUtc, payload)
		if err == nil {
			return nil
		}
		if schederr.Classify(err) != schederr.ClassTransient {
			return err
		}
		lastErr = err
		if attempt < maxRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// DeriveRequestCode implements spec §4.6's multi-stage hash mixing: XOR
// folding of the id's two halves, two auxiliary string hashes (FNV-1a and
// a simple polynomial hash), and a bit rotation, to spread ids across the
// 32-bit key space.
func DeriveRequestCode(alarmID string) int32 {
	mid := len(alarmID) / 2
	first, second := alarmID[:mid], alarmID[mid:]

	h1 := fnvHash(first)
	h2 := fnvHash(second)
	folded := h1 ^ h2

	h3 := polynomialHash(alarmID)
	mixed := folded ^ h3

	rotated := bits.RotateLeft32(mixed, 13)
	return int32(rotated)
}

func fnvHash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func polynomialHash(s string) uint32 {
	const prime = 16777619
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h = h*prime + uint32(s[i])
	}
	return h
}

// probeStage is one stage of the progressive collision-probing sequence
// from spec §4.6: "linear -> quadratic -> hash-with-large-prime ->
// time-salted".
type probeStage func(base int32, attempt int) int32

const largePrime = 2147483647 // 2^31 - 1, a Mersenne prime within int32 range

var probeStages = []probeStage{
	func(base int32, attempt int) int32 { return base + int32(attempt) }, // linear
	func(base int32, attempt int) int32 { return base + int32(attempt*attempt) }, // quadratic
	func(base int32, attempt int) int32 { return int32(uint32(base) ^ uint32(largePrime)*uint32(attempt)) }, // hash-with-large-prime
	func(base int32, attempt int) int32 { // time-salted
		return int32(uint32(base) ^ uint32(time.Now().UnixNano())*uint32(attempt+1))
	},
}

// MaxCollisionAttempts is spec §4.6's bound: up to 15 alternative codes.
const MaxCollisionAttempts = 15

// ResolveRequestCode derives a request code for alarmID and, if isArmed
// reports that code already taken, probes up to MaxCollisionAttempts
// alternatives via the progressive stages, returning the first free one.
// It returns schederr.ErrRequestCodeExhausted if every attempt collides.
func ResolveRequestCode(alarmID string, isArmed func(int32) bool) (int32, error) {
	base := DeriveRequestCode(alarmID)
	if !isArmed(base) {
		return base, nil
	}

	for attempt := 1; attempt <= MaxCollisionAttempts; attempt++ {
		stage := probeStages[(attempt-1)%len(probeStages)]
		candidate := stage(base, attempt)
		if !isArmed(candidate) {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("%w: alarm %s", schederr.ErrRequestCodeExhausted, alarmID)
}
