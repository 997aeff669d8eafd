package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"otp-service/internal/config"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// envelope is the serialized form stored on audit events: the AES-GCM
// ciphertext plus the KMS-wrapped data key that sealed it.
type envelope struct {
	Value string `json:"v"`
	DEK   string `json:"k"`
	KeyID string `json:"id"`
}

// Manager envelope-encrypts PII fields (the email address on exported
// security events). With KMS disabled it falls back to a process-local key,
// which is only acceptable in development.
type Manager struct {
	kmsClient *kms.Client
	config    *config.Config

	localKey     []byte
	localKeyOnce sync.Once
	keyCache     sync.Map // wrapped DEK -> plaintext DEK
}

func NewManager(cfg *config.Config, kmsClient *kms.Client) *Manager {
	return &Manager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

func (m *Manager) dataKey(ctx context.Context) (plaintext, wrapped []byte, keyID string, err error) {
	if !m.config.KMS.Enabled {
		m.localKeyOnce.Do(func() {
			m.localKey = make([]byte, 32)
			if _, readErr := rand.Read(m.localKey); readErr != nil {
				err = readErr
			}
		})
		if err != nil {
			return nil, nil, "", err
		}
		// Development only: the "wrapped" key is just encoded, not protected.
		return m.localKey, []byte(base64.StdEncoding.EncodeToString(m.localKey)), "local", nil
	}

	out, err := m.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to generate data key: %w", err)
	}
	return out.Plaintext, out.CiphertextBlob, m.config.KMS.KeyID, nil
}

// EncryptField seals a sensitive value and returns the compact envelope
// string stored alongside the email digest on audit events.
func (m *Manager) EncryptField(ctx context.Context, plaintext string) (string, error) {
	key, wrapped, keyID, err := m.dataKey(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	env := envelope{
		Value: base64.StdEncoding.EncodeToString(sealed),
		DEK:   base64.StdEncoding.EncodeToString(wrapped),
		KeyID: keyID,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	m.keyCache.Store(env.DEK, key)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecryptField opens an envelope produced by EncryptField. Used by back
// office tooling when an auditor needs the address behind a digest.
func (m *Manager) DecryptField(ctx context.Context, sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}

	key, err := m.unwrapKey(ctx, env.DEK)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Value)
	if err != nil {
		return "", fmt.Errorf("%w: malformed ciphertext", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

func (m *Manager) unwrapKey(ctx context.Context, wrappedDEK string) ([]byte, error) {
	if cached, ok := m.keyCache.Load(wrappedDEK); ok {
		return cached.([]byte), nil
	}

	var key []byte
	if m.config.KMS.Enabled {
		blob, err := base64.StdEncoding.DecodeString(wrappedDEK)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid data key", ErrDecryptionFailed)
		}
		out, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to unwrap data key: %v", ErrDecryptionFailed, err)
		}
		key = out.Plaintext
	} else {
		var err error
		key, err = base64.StdEncoding.DecodeString(wrappedDEK)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid local data key", ErrDecryptionFailed)
		}
	}

	m.keyCache.Store(wrappedDEK, key)
	return key, nil
}

// ClearCache drops all cached data keys.
func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
}
