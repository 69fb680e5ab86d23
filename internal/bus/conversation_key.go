package bus

import (
	"fmt"
	"strings"
)

// BuildClientKey identifies one external identity inside a business.
func BuildClientKey(businessID uint, platform Platform, externalID string) (string, error) {
	if businessID == 0 {
		return "", fmt.Errorf("business id is required")
	}
	if !platform.Valid() {
		return "", fmt.Errorf("platform is invalid")
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return "", fmt.Errorf("external id is required")
	}
	if strings.Contains(externalID, " ") {
		return "", fmt.Errorf("external id must not contain spaces")
	}
	return fmt.Sprintf("b%d:%s:%s", businessID, platformKeyPrefix(platform), externalID), nil
}

func platformKeyPrefix(platform Platform) string {
	switch platform {
	case PlatformTelegram:
		return "tg"
	case PlatformWhatsApp:
		return "wa"
	default:
		return ""
	}
}
