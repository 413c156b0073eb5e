package validation

import (
	"fmt"
	"strings"
)

// maxTopicLength is the MQTT limit on a UTF-8 encoded topic.
const maxTopicLength = 65535

// ValidateTopicFilter checks an MQTT subscription filter, including wildcard placement.
func ValidateTopicFilter(filter string) error {
	if err := validateTopicCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("'#' must be the last level on its own")
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("'+' must occupy a whole level")
		}
	}
	return nil
}

// ValidateTopicName checks a topic messages are published to; wildcards are not allowed.
func ValidateTopicName(topic string) error {
	if err := validateTopicCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("publish topic cannot contain wildcards")
	}
	return nil
}

func validateTopicCommon(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("topic too long (max %d bytes)", maxTopicLength)
	}
	if strings.ContainsRune(topic, '\x00') {
		return fmt.Errorf("topic cannot contain null characters")
	}
	return nil
}
