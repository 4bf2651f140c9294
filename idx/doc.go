// Copyright 2025 Ian Lewis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package idx implements reading multistream offset index files.
//
// The offset index is a compressed text file that lists every article in the
// archive. Each line comes in three colon separated parts:
//  1. The offset: the decimal byte offset of the compressed stream in the
//     archive that contains the article.
//  2. The id: the decimal article id.
//  3. The title: the rest of the line, verbatim. Titles may contain colons.
//
// Lines are ordered by offset and many consecutive lines share the same
// offset since one compressed stream holds many articles.
package idx
