package ttsapi

import "encoding/binary"

// WAVDuration computes the length of a RIFF/WAVE file from its header. size
// is the total file size, used when the data chunk length is a streaming
// placeholder.
func WAVDuration(header []byte, size int64) (float64, bool) {
	if len(header) < 12 || string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, false
	}
	var byteRate uint32
	offset := 12
	for offset+8 <= len(header) {
		id := string(header[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(header[offset+4 : offset+8])
		body := offset + 8
		switch id {
		case "fmt ":
			if body+12 > len(header) {
				return 0, false
			}
			byteRate = binary.LittleEndian.Uint32(header[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, false
			}
			dataSize := int64(chunkSize)
			if remaining := size - int64(body); chunkSize == 0 || chunkSize == 0xFFFFFFFF || dataSize > remaining {
				dataSize = remaining
			}
			return float64(dataSize) / float64(byteRate), true
		}
		offset = body + int(chunkSize) + int(chunkSize%2)
	}
	return 0, false
}
