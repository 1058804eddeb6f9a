// Package stage defines how the pipeline invokes its external programs. A
// Runner executes one command to completion inside a job's working directory,
// streaming its output line by line and reporting the exit status. The local
// process runner lives here; the container runner lives in stage/docker.
package stage
