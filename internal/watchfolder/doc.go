// Package watchfolder turns files that appear in watched directories into
// transcode jobs.
//
// fsnotify events only mark a path as pending. A poll loop stats pending
// paths and submits a file once its size and modification time have been
// unchanged for the rule's debounce window, so files that are still being
// copied in are never picked up early. Each path is submitted at most once.
// When a job from a watched file completes, the rule's post policy (keep,
// move, delete) is applied to the input.
package watchfolder
