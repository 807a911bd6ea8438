// internal/utils/crypto.go
package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// EncryptedPrefix 配置文件中加密字段的前缀
const EncryptedPrefix = "enc:"

// ErrCiphertextTooShort 密文长度不足 nonce
var ErrCiphertextTooShort = errors.New("密文过短")

func deriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

func newGCM(secret string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt 使用 AES-GCM 加密，返回 base64
func Encrypt(plaintext, secret string) (string, error) {
	gcm, err := newGCM(secret)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt 解密 Encrypt 的输出
func Decrypt(ciphertext, secret string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("密文解码失败: %w", err)
	}

	gcm, err := newGCM(secret)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	nonce, body := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("解密失败: %w", err)
	}
	return string(plaintext), nil
}

// EncryptSecret 加密并加上前缀；空值或未配置 secret 时原样返回
func EncryptSecret(value, secret string) (string, error) {
	if value == "" || secret == "" || strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}
	enc, err := Encrypt(value, secret)
	if err != nil {
		return "", err
	}
	return EncryptedPrefix + enc, nil
}

// DecryptSecret 解密带前缀的值，无前缀视为明文
func DecryptSecret(value, secret string) (string, error) {
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}
	if secret == "" {
		return "", errors.New("缺少解密密钥")
	}
	return Decrypt(strings.TrimPrefix(value, EncryptedPrefix), secret)
}

// MaskSecret 只保留末尾 4 位，用于展示
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
