// Package config holds fastcrawl's runtime options and the crawl file format.
//
// Config is flat and defaulted by NewConfig. File is the YAML crawl file that
// declares chains of stages, each with its own extraction schema. Stage
// settings are merged over the file's defaults section by File.StageSettings.
package config
