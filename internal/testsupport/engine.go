package testsupport

import (
	"path/filepath"
	"testing"
)

// PresetListing mimics `HandBrakeCLI --preset-list` output.
const PresetListing = `[12:00:00] hb_init: starting libhb thread
General/
    Very Fast 1080p30
        Small H.264 video (up to 1080p30) and AAC stereo audio, in an MP4 container.
    Fast 1080p30
        H.264 video (up to 1080p30) and AAC stereo audio, in an MP4 container.
    Fast 720p30
        H.264 video (up to 720p30) and AAC stereo audio, in an MP4 container.
Matroska/
    H.265 MKV 2160p60
        H.265 video (up to 2160p60) and AAC stereo audio, in an MKV container.
`

// Encoder bodies for WriteStubEngine.
const (
	// EngineSucceeds reports progress with carriage returns and exits cleanly.
	EngineSucceeds = `printf 'Encoding: task 1 of 1, 12.00 %%\rEncoding: task 1 of 1, 42.50 %%\r'
printf 'Encode done!\n'
exit 0`
	// EngineFails prints a diagnostic and exits 1.
	EngineFails = `echo "x264 [error]: could not open output file"
exit 1`
	// EngineFailsSilently exits 1 without output.
	EngineFailsSilently = `exit 1`
	// EngineFatal prints a fatal marker and then hangs until killed.
	EngineFatal = `echo "Encoding: 5.00 %"
echo "ERROR: Invalid input"
sleep 30`
	// EngineSlow reports progress and runs until signalled.
	EngineSlow = `echo "Encoding: task 1 of 2, 10.00 %"
sleep 30
exit 0`
	// EngineIgnoresTerm ignores SIGTERM so only SIGKILL stops it.
	EngineIgnoresTerm = `trap '' TERM
echo "Encoding: 1.00 %"
sleep 30
exit 0`
)

// WriteStubEngine writes a fake HandBrakeCLI into dir and returns its path.
// The stub prints PresetListing for --preset-list and runs body otherwise.
func WriteStubEngine(t testing.TB, dir, body string) string {
	t.Helper()

	script := `case "$1" in
--preset-list)
cat <<'LISTING'
` + PresetListing + `LISTING
exit 0
;;
esac
` + body
	return WriteScript(t, filepath.Join(dir, "HandBrakeCLI"), script)
}
