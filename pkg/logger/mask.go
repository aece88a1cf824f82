package logger

// paymentKeyPrefixLen - сколько символов ключа платежа попадает в логи.
// Префикса достаточно, чтобы найти платеж в кабинете шлюза,
// но недостаточно, чтобы повторить запрос подтверждения.
const paymentKeyPrefixLen = 8

// MaskPaymentKey возвращает безопасное для логов представление ключа платежа:
// первые восемь символов и маркер усечения. Ключи шлюза - ASCII строки,
// поэтому срез по байтам безопасен.
//
// Пример:
//
//	log.Info().Str("payment_key", logger.MaskPaymentKey(key)).Msg("Платеж подтвержден")
func MaskPaymentKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= paymentKeyPrefixLen {
		// Короткий ключ целиком в логах тоже не нужен.
		return key[:1] + "***"
	}
	return key[:paymentKeyPrefixLen] + "***"
}
