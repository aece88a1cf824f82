package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader — HTTP заголовок с подписью вебхука.
const SignatureHeader = "X-Webhook-Signature"

// SignatureVerifier проверяет подлинность вебхуков шлюза.
// Подпись — HMAC-SHA256 от сырого тела запроса в hex-кодировке.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier создаёт проверку подписи с общим секретом.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Verify сверяет подпись с HMAC от тела. Сравнение выполняется
// за константное время.
func (v *SignatureVerifier) Verify(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)

	return hmac.Equal(mac.Sum(nil), provided)
}

// Sign возвращает hex-подпись тела. Используется в тестах.
func (v *SignatureVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
