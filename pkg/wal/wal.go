package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// 自己定義常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀) - 適用於大多數檔案
	FileModeReadOnly fs.FileMode = 0644

	// rwxr-xr-x (擁有者全開，其他人可讀可執行) - 適用於目錄
	FileModeExecutable fs.FileMode = 0755
)

// ErrBroken 截斷失敗後檔案尾端可能留有半筆紀錄，之後的寫入會接在半筆之後，因此拒絕再寫
var ErrBroken = errors.New("wal is broken")

// WAL 以 JSON Lines 格式追加寫入的日誌，每一行是一筆已提交的紀錄
type WAL struct {
	file *os.File
	mu   sync.Mutex
	// size 目前最後一筆完整紀錄的結尾位置
	size int64
	// broken 非 nil 代表回滾失敗，WAL 不再接受寫入
	broken error
}

// NewWAL 開啟或建立一個 WAL 檔案
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func NewWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeReadOnly)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &WAL{
		file: file,
		size: info.Size(),
	}, nil
}

// Write 寫入一筆資料並刷入硬碟
// 寫入或 fsync 失敗時會把檔案截回寫入前的長度，日誌不會留下半筆紀錄
func (w *WAL) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return w.broken
	}
	if _, err := w.file.Write(data); err != nil {
		return w.rollback(err)
	}
	if err := w.file.Sync(); err != nil {
		return w.rollback(err)
	}
	w.size += int64(len(data))
	return nil
}

func (w *WAL) rollback(cause error) error {
	if err := w.file.Truncate(w.size); err != nil {
		w.broken = fmt.Errorf("%w: truncate to %d: %w", ErrBroken, w.size, err)
		return errors.Join(cause, w.broken)
	}
	return cause
}

// Sync 強制刷入硬碟
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Close 關閉檔案
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReadAll 依寫入順序讀取所有紀錄
// callback 收到一行 JSON，這樣可以避免一次將所有資料載入記憶體
// 最後一行若沒有換行符號 (寫到一半就掛掉) 視為未提交，會被截掉
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 確保從頭讀取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(w.file)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				if err := w.file.Truncate(offset); err != nil {
					return fmt.Errorf("truncate torn record: %w", err)
				}
			}
			w.size = offset
			return nil
		}
		if err != nil {
			return err
		}
		offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := callback(line); err != nil {
			return err
		}
	}
}
