package idgen

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ============================================================================
// Snowflake id generator
// ============================================================================
//
// Transaction and transfer numbers must be:
//   1. globally unique
//   2. roughly increasing, so the unique index stays append-friendly
//   3. cheap to generate under concurrency
//   4. free of business volume hints
//
// Layout (64 bits):
//
//   0 - 41 bit timestamp - 10 bit worker id - 12 bit sequence
//   |   |                  |                  |
//   |   |                  |                  +-- sequence within one ms (0-4095)
//   |   |                  +-- worker id (0-1023)
//   |   +-- milliseconds since epoch (about 69 years)
//   +-- sign bit, always 0
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// NewSnowflake returns a generator for workerID.
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("worker id must be between 0 and %d, got %d", maxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init sets up the default generator. Only the first call has an effect.
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = NewSnowflake(workerID)
	})
	return err
}

// NextID returns the next id of the default generator, initialising it with
// worker id 1 if Init was never called.
func NextID() int64 {
	_ = Init(1)
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// sequence exhausted, spin to the next millisecond
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateTransactionNo numbers one history record.
// Format: TXN + yyyyMMddHHmmss (UTC) + last 8 digits of a snowflake id,
// e.g. TXN2024011514305212345678
func GenerateTransactionNo() string {
	return withPrefix("TXN")
}

// GenerateTransferNo numbers a transfer; both legs share it.
func GenerateTransferNo() string {
	return withPrefix("TRF")
}

// GenerateAccountNumber returns a random 10 digit display number. Callers
// check it against existing accounts.
func GenerateAccountNumber() string {
	return fmt.Sprintf("%010d", 1000000000+rand.Int63n(9000000000))
}

func withPrefix(prefix string) string {
	id := NextID()
	timestamp := time.Now().UTC().Format("20060102150405")
	return fmt.Sprintf("%s%s%08d", prefix, timestamp, id%100000000)
}
