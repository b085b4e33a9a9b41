package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"csms/common"
)

func readAll(r *http.Request, limit int64) ([]byte, error) {
	body := http.MaxBytesReader(nil, r.Body, limit)
	defer body.Close()
	return io.ReadAll(body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var cerr *common.Error
	if !errors.As(err, &cerr) {
		cerr = common.Errorf(common.Internal, "%v", err)
	}
	writeJSON(w, cerr.HTTPStatus(), common.Response{Err: cerr})
}
