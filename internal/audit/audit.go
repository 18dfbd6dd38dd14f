// Package audit implements the append-only, signed audit store (spec §3,
// §7): every scope decision and lifecycle state change lands here, kept
// separate from operational data (checkpoints) so a compromised operational
// store can never quietly erase its own history.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"filippo.io/age"
)

// Log is an append-only JSONL audit sink with a running SHA-256 hash
// chain: each record's hash covers the previous record's hash plus its own
// payload, so any edit or deletion downstream of the tamper point breaks
// every subsequent hash. Periodically the chain head is sealed (age-
// encrypted to the configured recipients) so the seal file can later prove
// the log was not truncated or rewritten between seals.
type Log struct {
	path     string
	sealPath string
	mu       sync.Mutex

	prevHash   [32]byte
	sequence   uint64
	recipients []age.Recipient
}

// New opens (or creates) an audit log at path. recipientStrs are age
// X25519 recipient strings; a Log with no recipients still chains hashes
// but Seal becomes a no-op, which is acceptable for local development but
// not for a production deployment.
func New(path string, recipientStrs []string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}

	l := &Log{path: path, sealPath: path + ".seal"}
	for _, r := range recipientStrs {
		parsed, err := age.ParseX25519Recipient(r)
		if err != nil {
			return nil, fmt.Errorf("audit: invalid recipient %q: %w", r, err)
		}
		l.recipients = append(l.recipients, parsed)
	}

	prevHash, sequence, err := replayChain(path)
	if err != nil {
		return nil, err
	}
	l.prevHash = prevHash
	l.sequence = sequence
	return l, nil
}

// record is the on-disk shape of one audit line.
type record struct {
	Sequence uint64         `json:"seq"`
	Prev     string         `json:"prev"`
	Hash     string         `json:"hash"`
	Event    map[string]any `json:"event"`
}

// Log appends event to the chain. Implements scope.AuditSink and the
// sink shape session/ipc use for lifecycle events: a best-effort write
// that never blocks the caller on a slow disk longer than the write
// itself takes, and never panics on a nil or empty event.
func (l *Log) Log(event map[string]any) {
	if l == nil {
		return
	}
	if event == nil {
		event = map[string]any{}
	}
	if _, ok := event["ts"]; !ok {
		event["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return
	}
	l.sequence++
	hash := chainHash(l.prevHash, eventBytes)
	rec := record{
		Sequence: l.sequence,
		Prev:     hex.EncodeToString(l.prevHash[:]),
		Hash:     hex.EncodeToString(hash[:]),
		Event:    event,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	line = append(line, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return
	}
	l.prevHash = hash
}

// Seal age-encrypts the current chain head to the log's recipients and
// appends it to the seal file, timestamped. Call this on a schedule (e.g.
// hourly) and always during graceful shutdown: a seal is a checkpoint an
// auditor can later decrypt to prove the chain between two seals was not
// truncated or rewritten.
func (l *Log) Seal() error {
	l.mu.Lock()
	head := l.prevHash
	seq := l.sequence
	l.mu.Unlock()

	if len(l.recipients) == 0 {
		return nil
	}

	payload := fmt.Sprintf("%d:%s:%s", seq, hex.EncodeToString(head[:]), time.Now().UTC().Format(time.RFC3339Nano))
	sealed, err := encryptToRecipients(payload, l.recipients)
	if err != nil {
		return fmt.Errorf("audit: seal: %w", err)
	}

	f, err := os.OpenFile(l.sealPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open seal file: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, sealed)
	return err
}

func chainHash(prev [32]byte, payload []byte) [32]byte {
	h := sha256.New()
	h.Write(prev[:])
	h.Write(payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// replayChain restores the hash chain head and sequence number from the
// stored hash of the last readable line, so a restarted daemon resumes the chain
// instead of starting a fresh one that would make Seal's proof worthless.
func replayChain(path string) ([32]byte, uint64, error) {
	var head [32]byte
	var seq uint64

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return head, 0, nil
	}
	if err != nil {
		return head, 0, fmt.Errorf("audit: open existing log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		decoded, err := hex.DecodeString(rec.Hash)
		if err != nil || len(decoded) != 32 {
			continue
		}
		copy(head[:], decoded)
		seq = rec.Sequence
	}
	if err := scanner.Err(); err != nil {
		return head, seq, fmt.Errorf("audit: scan existing log: %w", err)
	}
	return head, seq, nil
}

// replayChainUpTo recomputes the chain hash using only the records with
// sequence <= limit, so a seal taken mid-log can be checked without later
// appends changing the answer.
func replayChainUpTo(path string, limit uint64) ([32]byte, uint64, error) {
	var head [32]byte
	var seq uint64

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return head, 0, nil
	}
	if err != nil {
		return head, 0, fmt.Errorf("audit: open existing log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec struct {
			Sequence uint64          `json:"seq"`
			Hash     string          `json:"hash"`
			Event    json.RawMessage `json:"event"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Sequence > limit {
			break
		}
		recomputed := chainHash(head, rec.Event)
		if hex.EncodeToString(recomputed[:]) != rec.Hash {
			return head, seq, fmt.Errorf("audit: chain hash mismatch at sequence %d", rec.Sequence)
		}
		head = recomputed
		seq = rec.Sequence
	}
	if err := scanner.Err(); err != nil {
		return head, seq, fmt.Errorf("audit: scan existing log: %w", err)
	}
	return head, seq, nil
}
