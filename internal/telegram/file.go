package telegram

import (
	"io"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// namedFile uploads a local file under a different display name.
type namedFile struct {
	path string
	name string
}

func (f namedFile) NeedsUpload() bool {
	return true
}

func (f namedFile) UploadData() (string, io.Reader, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return "", nil, err
	}
	return f.name, file, nil
}

func (f namedFile) SendData() string {
	panic("namedFile must be uploaded")
}

var _ tgbotapi.RequestFileData = namedFile{}
