package monitor

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// DefaultSpec — расписание проверки по умолчанию.
const DefaultSpec = "@every 30s"

// cronParser — стандартные 5 полей плюс дескрипторы (@every, @hourly).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSpec проверяет cron-выражение расписания.
func ValidateSpec(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid monitor spec %q: %w", spec, err)
	}
	return nil
}
