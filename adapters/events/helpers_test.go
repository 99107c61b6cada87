package events_test

import (
	"io"
	"log"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

// Message 表示測試用的事件內容。
type Message struct {
	Data string `json:"data" msgpack:"data"`
}
