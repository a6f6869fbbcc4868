// conf/defaults.go default values for settings
package conf

import (
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "occurharvest")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "occurharvest.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)

	viper.SetDefault("registry.baseurl", "https://api.gbif.org/v1")
	viper.SetDefault("registry.timeout", 60*time.Second)
	viper.SetDefault("registry.ratelimitms", 200)
	viper.SetDefault("registry.cachettl", 1*time.Hour)

	viper.SetDefault("harvest.pagesize", 100)
	viper.SetDefault("harvest.installationkey", "")
	// do not harvest from plazi
	viper.SetDefault("harvest.deniedhostingorgs", []string{"7ce8aef0-9e92-11dc-8738-b8a03c50a862"})

	viper.SetDefault("import.downloadsdir", "downloads/")
	viper.SetDefault("import.regionfile", "shapefiles/region_polygon.geojson")
	viper.SetDefault("import.workers", runtime.GOMAXPROCS(0))
	viper.SetDefault("import.batchsize", 5000)
	viper.SetDefault("import.maintenanceevery", 200)

	viper.SetDefault("hexbin.gridsdir", "grids/")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "occurharvest.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "occurharvest")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "occurharvest")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
}
