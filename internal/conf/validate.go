// conf/validate.go settings validation
package conf

import (
	"errors"
	"fmt"
)

// ValidateSettings checks that loaded settings are usable before any
// component is constructed from them.
func ValidateSettings(settings *Settings) error {
	var errs []error

	if settings.Registry.BaseURL == "" {
		errs = append(errs, errors.New("registry.baseurl must not be empty"))
	}
	if settings.Registry.RateLimitMS <= 0 {
		errs = append(errs, errors.New("registry.ratelimitms must be positive"))
	}
	if settings.Harvest.PageSize <= 0 {
		errs = append(errs, errors.New("harvest.pagesize must be positive"))
	}
	if settings.Import.BatchSize <= 0 {
		errs = append(errs, errors.New("import.batchsize must be positive"))
	}
	if settings.Import.MaintenanceEvery <= 0 {
		errs = append(errs, errors.New("import.maintenanceevery must be positive"))
	}
	if settings.Import.Workers < 0 {
		errs = append(errs, errors.New("import.workers must not be negative"))
	}
	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		errs = append(errs, errors.New("no database output enabled, enable output.sqlite or output.mysql"))
	}
	if settings.Output.SQLite.Enabled && settings.Output.MySQL.Enabled {
		errs = append(errs, errors.New("only one database output can be enabled at a time"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("settings validation failed: %w", errors.Join(errs...))
	}
	return nil
}
