// Package logging sets up structured JSON logging for searchview, with an
// optional size-rotated log file under ~/.searchview/logs/, and reads those
// files back for the logs command.
package logging
