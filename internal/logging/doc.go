// Package logging sets up structured JSON logs for clipbridge.
//
// Logs go to <data_dir>/logs/clipbridge.log with size-based rotation. Commands
// that own stdout or the terminal (serve, tui) log to the file only.
package logging
