// Copyright 2021 The rauc-go Authors
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

// +build arm 386

package system

// Taken from <mtd/ubi-user.h>: UBI_IOCVOLUP = _IOW('O', 0, int64_t).
// The argument is an int64 on all architectures, so the request value is the
// same as on 64-bit.
const UBI_IOCVOLUP ioctlRequestValue = 0x40084f00
