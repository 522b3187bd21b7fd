package fs

import jsoniter "github.com/json-iterator/go"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func unmarshalRecord(blob []byte, v interface{}) error {
	return jsonAPI.Unmarshal(blob, v)
}
