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

// Package multistream implements random access to articles in multistream
// encyclopedia dumps in pure Go.
//
// A multistream dump consists of two files:
//  1. The archive, a concatenation of independently compressed bzip2
//     streams. Each stream (block) holds up to 100 <page> elements without
//     an enclosing root element.
//  2. The offset index, a compressed text file with one "offset:id:title"
//     line per article giving the byte offset of the block holding it.
//
// The offset index is converted once per archive version into a persistent
// title index (see [Build]). Articles are then read by looking up their block
// range in the title index, decompressing only that block and locating the
// article within it (see [Reader]).
//
// More info on the dump format can be found at this URL:
// https://meta.wikimedia.org/wiki/Data_dumps/Dump_format
package multistream
