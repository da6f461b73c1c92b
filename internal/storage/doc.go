// Package storage moves transcoded files into permanent music storage.
//
// Two strategies exist. LegacyMaterializer copies straight into the playlist
// folder and asks the media scanner to index the file. ScopedMaterializer goes
// through a MediaLibrary: a record is inserted as pending, the audio is
// streamed into it and the record is published, or rolled back on failure.
package storage
