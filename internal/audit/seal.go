package audit

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"filippo.io/age"
)

const sealPrefix = "audit-seal:v1:"

func encryptToRecipients(plaintext string, recipients []age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return sealPrefix + base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

func decryptSeal(sealed string, identity *age.X25519Identity) (string, error) {
	sealed = strings.TrimSpace(sealed)
	payload := strings.TrimPrefix(sealed, sealPrefix)
	if payload == sealed {
		return "", fmt.Errorf("audit: not a recognized seal format")
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("audit: decode seal: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return "", fmt.Errorf("audit: decrypt seal: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// VerifyChain decrypts every seal in the log's seal file with identity and
// checks each one against the chain hash recomputed from path up to that
// seal's claimed sequence number. It returns an error describing the first
// mismatch; a nil return means no seal checkpoint has ever been
// contradicted by the records on disk.
func VerifyChain(path string, sealPath string, identity *age.X25519Identity) error {
	sealFile, err := os.Open(sealPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("audit: open seal file: %w", err)
	}
	defer sealFile.Close()

	scanner := bufio.NewScanner(sealFile)
	for scanner.Scan() {
		plain, err := decryptSeal(scanner.Text(), identity)
		if err != nil {
			return err
		}

		parts := strings.SplitN(plain, ":", 3)
		if len(parts) != 3 {
			return fmt.Errorf("audit: malformed seal payload")
		}
		sealedSeq, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return fmt.Errorf("audit: malformed seal sequence: %w", err)
		}

		head, seq, err := replayChainUpTo(path, sealedSeq)
		if err != nil {
			return err
		}
		if seq != sealedSeq {
			return fmt.Errorf("audit: log has fewer records (%d) than sealed checkpoint %d: truncated", seq, sealedSeq)
		}
		if fmt.Sprintf("%x", head) != parts[1] {
			return fmt.Errorf("audit: chain hash mismatch at sealed sequence %d: log has been tampered with", sealedSeq)
		}
	}
	return scanner.Err()
}
