/*
Package config loads clm's layered runtime settings: command-line
flags override environment variables, which override a YAML config
file (default `~/.clm/config.yaml`, or `--config`), which override the
package's built-in defaults. It wraps viper the way the teacher wraps
flag parsing in cmd/warren, but with a file layer added because this
CLI carries more persistent settings (worker pool shape per job kind,
debounce delay, timeouts) than one-off flags comfortably
hold.
*/
package config
