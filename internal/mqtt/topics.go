package mqtt

import "fmt"

func TopicOverlayEvent(prefix, kind string) string {
	return fmt.Sprintf("%s/overlay/event/%s", prefix, kind)
}

func TopicOverlayAdvance(prefix string) string {
	return fmt.Sprintf("%s/overlay/advance", prefix)
}

func TopicScreenWindow(prefix string) string {
	return fmt.Sprintf("%s/screen/window", prefix)
}
