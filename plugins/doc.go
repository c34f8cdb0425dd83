// Package plugins hosts plugin implementation subpackages. Each subpackage
// exposes a New constructor returning a core.Plugin that contributes
// site-specific rules through Service.InstallPlugin.
package plugins
