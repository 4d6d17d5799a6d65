package provider

import (
	"strings"

	"github.com/mssola/useragent"
)

// Delivery is how the page should hand a source to its player.
type Delivery string

const (
	DeliveryNone            Delivery = "none"
	DeliveryEmbed           Delivery = "embed"
	DeliveryProgressive     Delivery = "progressive"
	DeliveryNativeSegmented Delivery = "native-segmented"
	DeliveryEngineSegmented Delivery = "engine-segmented"
)

// ChooseDelivery picks the delivery mode for a detected source. Segmented streams
// play natively on WebKit (every iOS browser, desktop Safari) and on Android;
// everything else needs the streaming engine.
func ChooseDelivery(p Provider, segmented bool, userAgent string) Delivery {
	switch p {
	case None:
		return DeliveryNone
	case DirectFile:
	default:
		return DeliveryEmbed
	}
	if !segmented {
		return DeliveryProgressive
	}
	if SupportsNativeSegmented(userAgent) {
		return DeliveryNativeSegmented
	}
	return DeliveryEngineSegmented
}

// SupportsNativeSegmented reports whether the user agent can play HLS manifests
// without a streaming engine.
func SupportsNativeSegmented(userAgent string) bool {
	if strings.TrimSpace(userAgent) == "" {
		return false
	}
	ua := useragent.New(userAgent)
	if ua.Bot() {
		return false
	}
	switch ua.Platform() {
	case "iPhone", "iPad", "iPod":
		return true
	}
	if ua.Mobile() && strings.HasPrefix(ua.OS(), "Android") {
		return true
	}
	name, _ := ua.Browser()
	return name == "Safari"
}
