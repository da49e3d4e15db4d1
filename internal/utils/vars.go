package utils

import "regexp"

// DefaultBufferSize is the streaming copy buffer for segment downloads.
const DefaultBufferSize = 1024 * 1024 * 8 // 8MB buffer

// MergeBufferSize is the copy buffer used when concatenating partial files.
const MergeBufferSize = 1024 * 1024 * 32 // 32MB buffer

// WorkspaceDirName holds partial files and the persisted transfer plan,
// created beside the output path.
const WorkspaceDirName = ".cocofetch-temp"

const LogFile = ".cocofetch.log"

const ToolUserAgent = "cocofetch/1.0"

var PartIndexRegex = regexp.MustCompile(`\.part(\d+)$`)

// Local-only User-Agent list
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:135.0) Gecko/20100101 Firefox/135.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.3 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36 Edg/132.0.0.0",
	"curl/7.88.1",
	"Wget/1.21.4",
}
