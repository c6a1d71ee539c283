package utils

const masked = "****"

// MaskPhoneNumber redacts a phone number so it can appear in logs and API
// responses. The leading 3 and trailing 4 characters stay visible; inputs of
// 7 characters or fewer would survive intact, so they collapse to "****".
func MaskPhoneNumber(phone string) string {
	if len(phone) <= 7 {
		return masked
	}
	return phone[:3] + masked + phone[len(phone)-4:]
}

// MaskAPIHash keeps only the first 4 characters of an API hash, enough to
// tell credentials apart in logs without leaking them.
func MaskAPIHash(hash string) string {
	if len(hash) <= 4 {
		return masked
	}
	return hash[:4] + masked
}
