// Package httpclient provides a typed Go client for the relaypacs upload
// API, and a resumable uploader built on it.
//
// Create a client with:
//
//	client, err := httpclient.New("http://localhost:8080/api/relaypacs")
//	if err != nil {
//	   panic(err)
//	}
//
// Then upload the files of a study directory:
//
//	resp, err := client.Upload(ctx, accessToken, req, os.DirFS(dir))
package httpclient
